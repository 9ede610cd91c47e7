package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// ClassColor binds a semantic label to the exact raster color that marks
// it in a segmentation mask.
type ClassColor struct {
	Label string
	Color [3]uint8 // R, G, B
}

// ColorMap is an ordered label-to-color mapping. Order is significant:
// later entries render on top of earlier ones in the derived overlay.
type ColorMap []ClassColor

// ChannelOrder states how a color map's triplets are laid out.
type ChannelOrder string

// Supported channel orders.
const (
	OrderRGB ChannelOrder = "rgb"
	OrderBGR ChannelOrder = "bgr"
)

// NewColorMap normalizes the entries for overlay use: labels are trimmed
// and inner whitespace becomes hyphens (labels end up as SVG class
// attributes), and BGR triplets are flipped to RGB.
func NewColorMap(entries []ClassColor, order ChannelOrder) (ColorMap, error) {
	switch ChannelOrder(strings.ToLower(string(order))) {
	case OrderRGB, OrderBGR:
	default:
		return nil, fmt.Errorf("invalid channel order %q", order)
	}

	cm := make(ColorMap, 0, len(entries))
	for _, e := range entries {
		label := strings.Join(strings.Fields(strings.TrimSpace(e.Label)), "-")
		c := e.Color
		if ChannelOrder(strings.ToLower(string(order))) == OrderBGR {
			c[0], c[2] = c[2], c[0]
		}
		cm = append(cm, ClassColor{Label: label, Color: c})
	}
	return cm, nil
}

// polygon is a traced region boundary tagged with its class.
type polygon struct {
	label  string
	color  [3]uint8
	points []image.Point
}

// MaskOverlaySVG renders the raster mask as an SVG overlay. For each
// mapped color, in map order, pixels matching that color exactly are
// grouped into connected regions and each region's external boundary
// becomes one filled polygon carrying the class label. Colors absent from
// the map stay transparent. Traversal order is fixed (row-major scan,
// clockwise boundary walk), so identical input yields identical output.
func MaskOverlaySVG(img image.Image, cm ColorMap) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var polygons []polygon
	for _, class := range cm {
		mask := binarize(img, class.Color)
		for _, contour := range externalContours(mask, w, h) {
			polygons = append(polygons, polygon{
				label:  class.Label,
				color:  class.Color,
				points: contour,
			})
		}
	}

	return renderSVG(w, h, polygons)
}

// DeriveMaskOverlay reads a raster mask, derives its SVG overlay, and
// writes it next to the source with an .svg extension. Returns the path
// of the written overlay.
func DeriveMaskOverlay(rasterPath string, cm ColorMap) (string, error) {
	img, err := imaging.Open(rasterPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrAssetRead, rasterPath, err)
	}

	svg := MaskOverlaySVG(img, cm)

	outPath := replaceExt(rasterPath, ".svg")
	if err := os.WriteFile(outPath, svg, 0o644); err != nil {
		return "", fmt.Errorf("failed to write overlay %s: %w", outPath, err)
	}
	return outPath, nil
}

// binarize produces a foreground bitmap of pixels exactly matching the
// target color. Alpha is ignored; mask rasters are opaque.
func binarize(img image.Image, target [3]uint8) []bool {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := make([]bool, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			if c.R == target[0] && c.G == target[1] && c.B == target[2] {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

// moore lists the 8-neighborhood in clockwise order starting west.
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// externalContours finds each 8-connected foreground region in scan order
// and traces its outer boundary. Holes inside a region are not traced.
func externalContours(mask []bool, w, h int) [][]image.Point {
	labeled := make([]bool, w*h)
	var contours [][]image.Point

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !mask[idx] || labeled[idx] {
				continue
			}
			contour := traceBoundary(mask, w, h, x, y)
			contours = append(contours, compressCollinear(contour))
			fillComponent(mask, labeled, w, h, x, y)
		}
	}
	return contours
}

// traceBoundary walks the outer boundary of the component containing the
// start pixel using Moore neighbor tracing. The start pixel is the
// component's first pixel in scan order, so the cell above it is
// background and the walk begins from the west. Termination follows
// Jacob's criterion: stop on re-entering the start pixel from the
// original backtrack cell.
func traceBoundary(mask []bool, w, h, sx, sy int) []image.Point {
	inside := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && mask[y*w+x]
	}

	start := image.Pt(sx, sy)
	contour := []image.Point{start}

	cur := start
	backtrack := image.Pt(sx-1, sy)
	startBacktrack := backtrack

	for step := 0; step < 4*w*h; step++ {
		// Resume the clockwise sweep from the backtrack cell.
		from := 0
		for i, d := range moore {
			if cur.X+d.X == backtrack.X && cur.Y+d.Y == backtrack.Y {
				from = i
				break
			}
		}

		next := cur
		found := false
		for i := 1; i <= 8; i++ {
			d := moore[(from+i)%8]
			nx, ny := cur.X+d.X, cur.Y+d.Y
			if inside(nx, ny) {
				next = image.Pt(nx, ny)
				found = true
				break
			}
			backtrack = image.Pt(nx, ny)
		}

		if !found {
			// Isolated pixel.
			return contour
		}
		if next == start && backtrack == startBacktrack {
			return contour
		}
		contour = append(contour, next)
		cur = next
	}
	return contour
}

// fillComponent marks every pixel 8-connected to (sx, sy) as labeled.
func fillComponent(mask, labeled []bool, w, h, sx, sy int) {
	stack := []image.Point{{X: sx, Y: sy}}
	labeled[sy*w+sx] = true

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, d := range moore {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			idx := ny*w + nx
			if mask[idx] && !labeled[idx] {
				labeled[idx] = true
				stack = append(stack, image.Pt(nx, ny))
			}
		}
	}
}

// compressCollinear drops interior points of straight runs, keeping only
// the vertices where the boundary changes direction.
func compressCollinear(points []image.Point) []image.Point {
	if len(points) < 3 {
		return points
	}
	out := []image.Point{points[0]}
	for i := 1; i < len(points)-1; i++ {
		a, b, c := out[len(out)-1], points[i], points[i+1]
		// Cross product of (b-a) and (c-a); zero means collinear.
		if (b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X) != 0 {
			out = append(out, b)
		}
	}
	out = append(out, points[len(points)-1])
	return out
}

func renderSVG(w, h int, polygons []polygon) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf,
		`<svg xmlns="http://www.w3.org/2000/svg" id="mask-svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		w, h, w, h)
	buf.WriteByte('\n')

	for _, p := range polygons {
		rgb := fmt.Sprintf("rgb(%d,%d,%d)", p.color[0], p.color[1], p.color[2])
		buf.WriteString(`  <polygon points="`)
		for i, pt := range p.points {
			if i > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "%d,%d", pt.X, pt.Y)
		}
		fmt.Fprintf(&buf,
			`" fill="%s" stroke="%s" stroke-width="1" stroke-linejoin="round" class="%s" />`,
			rgb, rgb, p.label)
		buf.WriteByte('\n')
	}

	buf.WriteString("</svg>\n")
	return buf.Bytes()
}
