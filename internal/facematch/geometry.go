package facematch

import (
	"image"
	"math"
)

// BBoxFromRect converts an image.Rectangle (as returned by detectors) to a BBox.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// BBoxFromFloats converts an [x1, y1, x2, y2] float bbox (as returned by the
// embedding server) to a pixel BBox. Returns false for malformed input.
func BBoxFromFloats(v []float64) (BBox, bool) {
	if len(v) != 4 {
		return BBox{}, false
	}
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return BBox{}, false
		}
	}
	return BBox{
		X1: int(math.Floor(v[0])),
		Y1: int(math.Floor(v[1])),
		X2: int(math.Ceil(v[2])),
		Y2: int(math.Ceil(v[3])),
	}, true
}

// Rect returns the box as an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box has zero width or height.
func (b BBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Clamp restricts the box to a width x height frame.
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		X1: clampInt(b.X1, 0, width),
		Y1: clampInt(b.Y1, 0, height),
		X2: clampInt(b.X2, 0, width),
		Y2: clampInt(b.Y2, 0, height),
	}
}

// ClampTo restricts the box to the given image bounds.
func (b BBox) ClampTo(bounds image.Rectangle) BBox {
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return BBox{}
	}
	return BBoxFromRect(r)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
func ComputeIoU(a, b BBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0 // No intersection
	}

	intersection := float64(inter.Dx() * inter.Dy())
	union := float64(a.Width()*a.Height()) + float64(b.Width()*b.Height()) - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}
