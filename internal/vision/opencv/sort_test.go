package opencv

import (
	"testing"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

func TestSortLargestFirst(t *testing.T) {
	boxes := []facematch.BBox{
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: 0, Y1: 0, X2: 50, Y2: 50},
		{X1: 5, Y1: 5, X2: 25, Y2: 25},
	}

	sortLargestFirst(boxes)

	if boxes[0].Width() != 50 || boxes[1].Width() != 20 || boxes[2].Width() != 10 {
		t.Errorf("unexpected order %v", boxes)
	}
}
