package facematch

import (
	"image"
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        BBox
		b        BBox
		expected float64
	}{
		{"identical boxes", BBox{0, 0, 10, 10}, BBox{0, 0, 10, 10}, 1.0},
		{"no overlap", BBox{0, 0, 10, 10}, BBox{20, 20, 30, 30}, 0.0},
		{"partial overlap", BBox{0, 0, 10, 10}, BBox{5, 5, 15, 15}, 25.0 / 175.0},
		{"one inside other", BBox{0, 0, 20, 20}, BBox{5, 5, 15, 15}, 100.0 / 400.0},
		{"empty box", BBox{}, BBox{0, 0, 10, 10}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ComputeIoU() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestBBox_Clamp(t *testing.T) {
	tests := []struct {
		name     string
		box      BBox
		expected BBox
	}{
		{"inside", BBox{10, 10, 100, 100}, BBox{10, 10, 100, 100}},
		{"negative origin", BBox{-20, -5, 50, 60}, BBox{0, 0, 50, 60}},
		{"past edges", BBox{600, 400, 700, 520}, BBox{600, 400, 640, 480}},
		{"fully outside", BBox{700, 500, 800, 600}, BBox{640, 480, 640, 480}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.box.Clamp(640, 480)
			if result != tt.expected {
				t.Errorf("Clamp() = %+v, want %+v", result, tt.expected)
			}
		})
	}
}

func TestBBox_ClampTo(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	if got := (BBox{-10, -10, 20, 20}).ClampTo(bounds); got != (BBox{0, 0, 20, 20}) {
		t.Errorf("ClampTo() = %+v, want {0 0 20 20}", got)
	}
	if got := (BBox{700, 500, 800, 600}).ClampTo(bounds); !got.Empty() {
		t.Errorf("expected empty box for region outside bounds, got %+v", got)
	}
}

func TestBBox_Empty(t *testing.T) {
	if !(BBox{5, 5, 5, 10}).Empty() {
		t.Error("zero width box should be empty")
	}
	if !(BBox{5, 10, 10, 5}).Empty() {
		t.Error("inverted box should be empty")
	}
	if (BBox{0, 0, 1, 1}).Empty() {
		t.Error("1x1 box should not be empty")
	}
}

func TestBBoxFromFloats(t *testing.T) {
	box, ok := BBoxFromFloats([]float64{10.4, 20.6, 99.2, 120.0})
	if !ok {
		t.Fatal("expected valid bbox")
	}
	if box != (BBox{10, 20, 100, 120}) {
		t.Errorf("BBoxFromFloats() = %+v, want {10 20 100 120}", box)
	}

	if _, ok := BBoxFromFloats([]float64{1, 2, 3}); ok {
		t.Error("expected failure for 3-element bbox")
	}
	if _, ok := BBoxFromFloats([]float64{math.NaN(), 0, 1, 1}); ok {
		t.Error("expected failure for NaN bbox")
	}
}
