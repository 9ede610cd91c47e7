package assets

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	// Registers TIFF decoding with image.Decode; geospatial uploads are
	// predominantly TIFF.
	_ "golang.org/x/image/tiff"
)

// thumbnailMaxDim bounds the longest side of a derived thumbnail.
const thumbnailMaxDim = 1080

// ImageMeta is the raster metadata recorded alongside an image object.
type ImageMeta struct {
	Width        int
	Height       int
	BitDepth     int
	ChannelCount int
}

// ReadImageMeta decodes just enough of the file to report its dimensions,
// bit depth, and channel count.
func ReadImageMeta(path string) (ImageMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageMeta{}, fmt.Errorf("%w: %s", ErrAssetRead, path)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return ImageMeta{}, fmt.Errorf("%w: %s: %v", ErrAssetRead, path, err)
	}

	bits, channels := colorModelInfo(cfg.ColorModel)
	return ImageMeta{
		Width:        cfg.Width,
		Height:       cfg.Height,
		BitDepth:     bits,
		ChannelCount: channels,
	}, nil
}

func colorModelInfo(m color.Model) (bitDepth, channelCount int) {
	switch m {
	case color.GrayModel:
		return 8, 1
	case color.Gray16Model:
		return 16, 1
	case color.RGBAModel, color.NRGBAModel:
		return 32, 4
	case color.RGBA64Model, color.NRGBA64Model:
		return 64, 4
	case color.YCbCrModel:
		return 24, 3
	case color.CMYKModel:
		return 32, 4
	default:
		// Paletted and exotic models are reported as 8-bit RGB, which is
		// what they render as downstream.
		return 24, 3
	}
}

// Thumbnail scales the image down so its longest side does not exceed
// 1080 pixels, preserving aspect ratio. Images already within bounds are
// returned at their original size.
func Thumbnail(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= thumbnailMaxDim && bounds.Dy() <= thumbnailMaxDim {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, thumbnailMaxDim, thumbnailMaxDim, imaging.Lanczos)
}

// DeriveThumbnail reads the raster at srcPath, scales it to thumbnail
// size, and writes it next to the source with the requested format's
// extension. Supported formats are "jpg" and "png". Returns the path of
// the written thumbnail.
func DeriveThumbnail(srcPath, format string) (string, error) {
	format = strings.ToLower(format)
	switch format {
	case "jpg", "jpeg":
		format = "jpg"
	case "png":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrAssetRead, srcPath, err)
	}

	thumb := Thumbnail(img)

	// imaging picks the encoder from the extension.
	outPath := replaceExt(srcPath, "."+format)
	if err := imaging.Save(thumb, outPath, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to write thumbnail %s: %w", outPath, err)
	}
	return outPath, nil
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newExt
}
