// Package assets derives browser-friendly artifacts from raw uploads:
// reduced-resolution thumbnails for wide-gamut rasters, vector overlays
// for segmentation masks, and metadata extraction for images and point
// clouds.
package assets

import "errors"

// Sentinel errors returned by the derivation functions.
var (
	// ErrAssetRead indicates the source file is missing or unreadable.
	ErrAssetRead = errors.New("failed to read source asset")

	// ErrUnsupportedFormat indicates an output format outside the
	// supported set was requested.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)
