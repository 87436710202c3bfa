package roi

import (
	"fmt"

	img "imagec/internal/image"
	"imagec/pkg/geometry"

	"gocv.io/x/gocv"
)

// LargestContour returns the outer contour with the most points of a mask.
// Coordinates are relative to the mask.
func LargestContour(mask *img.Mask) ([]geometry.PointInt, error) {
	if mask == nil || mask.Width == 0 || mask.Height == 0 {
		return []geometry.PointInt{}, nil
	}
	mat, err := mask.ToMat()
	if err != nil {
		return nil, fmt.Errorf("mask to mat: %w", err)
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalList, gocv.ChainApproxNone)
	defer contours.Close()

	best := -1
	for i := 0; i < contours.Size(); i++ {
		if best < 0 || contours.At(i).Size() > contours.At(best).Size() {
			best = i
		}
	}
	if best < 0 {
		return []geometry.PointInt{}, nil
	}
	pts := contours.At(best).ToPoints()
	out := make([]geometry.PointInt, len(pts))
	for i, p := range pts {
		out[i] = geometry.PointInt{X: p.X, Y: p.Y}
	}
	return out, nil
}

// tracedPerimeter counts pixels in straight edges as 1 and pixels in corners
// as sqrt(2). The total boundary length is reduced by 2-sqrt(2) for every
// non-adjacent corner. sumDx and sumDy start at 2 to compensate the offset
// between pixel-centre contours and pixel-edge boundaries.
func tracedPerimeter(points []geometry.PointInt) float64 {
	const cornerCorrection = 2 - sqrt2
	switch len(points) {
	case 0:
		return 0
	case 1:
		return 4 - 2*cornerCorrection
	case 2:
		return 6 - 3*cornerCorrection
	case 3:
		return 8 - 3*cornerCorrection
	case 4:
		return 8 - 4*cornerCorrection
	}

	n := len(points)
	sumDx, sumDy, nCorners := 2, 2, 0
	dx1 := points[0].X - points[n-1].X
	dy1 := points[0].Y - points[n-1].Y
	side1 := abs(dx1) + abs(dy1)
	corner := false
	for i := 0; i < n; i++ {
		next := i + 1
		if next == n {
			next = 0
		}
		dx2 := points[next].X - points[i].X
		dy2 := points[next].Y - points[i].Y
		sumDx += abs(dx1)
		sumDy += abs(dy1)
		side2 := abs(dx2) + abs(dy2)
		if side1 > 1 || !corner {
			corner = true
			nCorners++
		} else {
			corner = false
		}
		dx1, dy1, side1 = dx2, dy2, side2
	}
	return float64(sumDx+sumDy) - float64(nCorners)*cornerCorrection
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
