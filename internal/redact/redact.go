// Package redact strips sensitive fragments from strings before they are
// logged or surfaced in error responses: database DSNs, storage
// credentials, local scratch paths, and raw SQL.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredential = "[REDACTED_CREDENTIAL]"
	RedactedPath       = "[REDACTED_PATH]"
	RedactedHost       = "[REDACTED_HOST]"
	RedactedSQL        = "[REDACTED_SQL]"
)

var (
	// Connection strings with embedded credentials.
	dsnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|mysql)://[^@\s]+@`)

	// Key/secret assignments (storage access keys, passwords).
	credentialRegex = regexp.MustCompile(
		`(?i)(password|passwd|secret[_-]?key|access[_-]?key|token)(['"\s:=]+)[^'"&\s]{3,}`,
	)

	// Local filesystem paths (scratch files, staged assets).
	pathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)

	// Bare host:port endpoints.
	hostPortRegex = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`,
	)

	// SQL fragments leaking schema details.
	sqlRegex = regexp.MustCompile(
		`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)[\s\w,*()]+(?:FROM|INTO|SET|TABLE)(?:[\s\w,*()='"]+)?`,
	)

	placeholders = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{dsnRegex, RedactedCredential},
		{credentialRegex, RedactedCredential},
		{sqlRegex, RedactedSQL},
		{pathRegex, RedactedPath},
		{hostPortRegex, RedactedHost},
	}
)

// String redacts sensitive fragments from the input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range placeholders {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// Error redacts an error's message. A nil error yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
