package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/terralens/terralens-api/internal/platform/logger"
)

// Inference failure modes.
var (
	// ErrInferenceFailed indicates the external process exited non-zero
	// or could not be started.
	ErrInferenceFailed = errors.New("inference process failed")

	// ErrNoOutput indicates the process exited cleanly but the expected
	// output file was not produced.
	ErrNoOutput = errors.New("inference process produced no output")
)

// Inference invokes external analysis processes. A command is the program
// plus fixed arguments; the input and output scratch paths are appended
// as the final positional arguments. Success is judged purely by exit
// status plus the existence of the output file; nothing structured is
// read back from the process.
type Inference struct {
	timeout time.Duration
}

// NewInference creates an Inference runner with the given per-process
// timeout.
func NewInference(timeout time.Duration) *Inference {
	return &Inference{timeout: timeout}
}

// Run executes command with the input paths and the output path appended,
// then verifies the output file exists.
func (r *Inference) Run(ctx context.Context, command []string, inputPaths []string, outputPath string) error {
	if len(command) == 0 {
		return fmt.Errorf("%w: empty command", ErrInferenceFailed)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string{}, command[1:]...), inputPaths...)
	args = append(args, outputPath)

	log := logger.FromContext(ctx).With("command", command[0])
	log.Info("starting inference process", "inputs", inputPaths, "output", outputPath)

	cmd := exec.CommandContext(runCtx, command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Error("inference process failed", "error", err, "output", string(out))
		return fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		log.Error("inference output missing", "output", outputPath)
		return fmt.Errorf("%w: %s", ErrNoOutput, outputPath)
	}
	return nil
}
