// Package facematch provides face geometry and similarity utilities shared by
// the session, recognition, and pipeline packages.
package facematch

import "errors"

// ErrNoFace is returned by embedders that found no face in an image.
var ErrNoFace = errors.New("no face found in image")

// BBox is a face bounding box in pixel coordinates, [X1,Y1) to [X2,Y2).
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Match is a stored identity paired with its similarity in [0,1].
type Match struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}
