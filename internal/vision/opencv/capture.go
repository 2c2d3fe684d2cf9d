// Package opencv binds the camera and face detection contracts to OpenCV via gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/candy-kiosk/internal/camera"
	"github.com/kozaktomas/candy-kiosk/internal/config"
)

var errEmptyFrame = errors.New("empty frame")

// Capture is an open VideoCapture device.
type Capture struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera returns a camera.Opener configuring each device with the
// resolution and frame rate from cfg, MJPG codec and a one-frame buffer.
func OpenCamera(cfg config.CameraConfig) camera.Opener {
	return func(index int) (camera.Device, error) {
		vc, err := gocv.OpenVideoCapture(index)
		if err != nil {
			return nil, fmt.Errorf("open video capture: %w", err)
		}
		if !vc.IsOpened() {
			_ = vc.Close()
			return nil, fmt.Errorf("video capture %d not opened", index)
		}

		vc.Set(gocv.VideoCaptureFOURCC, vc.ToCodec("MJPG"))
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
		// Latest frame only.
		vc.Set(gocv.VideoCaptureBufferSize, 1)

		return &Capture{vc: vc, mat: gocv.NewMat()}, nil
	}
}

// Read grabs the next frame.
func (c *Capture) Read() (image.Image, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errEmptyFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the device.
func (c *Capture) Close() error {
	matErr := c.mat.Close()
	if err := c.vc.Close(); err != nil {
		return err
	}
	return matErr
}
