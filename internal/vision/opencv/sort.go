package opencv

import (
	"cmp"
	"slices"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

func sortLargestFirst(boxes []facematch.BBox) {
	slices.SortStableFunc(boxes, func(a, b facematch.BBox) int {
		return cmp.Compare(b.Width()*b.Height(), a.Width()*a.Height())
	})
}
