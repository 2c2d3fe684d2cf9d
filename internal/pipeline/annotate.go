package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

const boxThickness = 2

var boxColor = color.RGBA{R: 255, A: 255}

// annotate copies img and draws the face box with its label.
func annotate(img image.Image, bbox *facematch.BBox, label string) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)

	if bbox == nil || bbox.Empty() {
		return dst
	}
	drawRect(dst, bbox.Rect().Intersect(b), boxThickness, boxColor)
	drawLabel(dst, *bbox, label)
	return dst
}

func drawRect(dst *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	src := image.NewUniform(c)
	t := min(thickness, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawLabel writes label above the box, or just inside it when the box
// touches the top of the frame.
func drawLabel(dst *image.RGBA, bbox facematch.BBox, label string) {
	face := basicfont.Face7x13
	y := bbox.Y1 - 4
	if y-face.Ascent < dst.Bounds().Min.Y {
		y = bbox.Y1 + face.Ascent + boxThickness
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(boxColor),
		Face: face,
		Dot:  fixed.P(bbox.X1, y),
	}
	d.DrawString(label)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
