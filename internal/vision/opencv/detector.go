package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

// DefaultCascadeFile is the Haar cascade shipped with OpenCV.
const DefaultCascadeFile = "haarcascade_frontalface_default.xml"

// CascadeDetector finds faces with a Haar cascade classifier.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascadeDetector loads the cascade at path.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	if path == "" {
		path = DefaultCascadeFile
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier %s", path)
	}
	return &CascadeDetector{classifier: classifier}, nil
}

// Detect returns face boxes in img, largest first.
func (d *CascadeDetector) Detect(_ context.Context, img image.Image) ([]facematch.BBox, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(gray, &equalized)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(
		equalized,
		1.1,               // scale factor
		5,                 // min neighbors
		0,                 // flags
		image.Point{X: 30, Y: 30},
		image.Point{},
	)
	d.mu.Unlock()

	boxes := make([]facematch.BBox, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, facematch.BBoxFromRect(r).ClampTo(img.Bounds()))
	}
	sortLargestFirst(boxes)
	return boxes, nil
}

// Close releases the classifier.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
