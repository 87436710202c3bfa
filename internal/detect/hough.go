package detect

import (
	"fmt"
	"math"

	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/pkg/geometry"

	"gocv.io/x/gocv"
)

// HoughParams configures the gradient Hough circle transform.
type HoughParams struct {
	MinDistance float64 `json:"minCircleDistance"`
	MinRadius   int     `json:"minCircleRadius"`
	MaxRadius   int     `json:"maxCircleRadius"`
	// Param1 is the upper Canny threshold.
	Param1 float64 `json:"param1"`
	// Param2 is the accumulator threshold. Smaller values find more circles.
	Param2 float64 `json:"param2"`
}

// Check validates the parameters.
func (p HoughParams) Check() error {
	if p.MinDistance <= 0 {
		return fmt.Errorf("min circle distance must be > 0")
	}
	if p.MinRadius < 0 || (p.MaxRadius > 0 && p.MaxRadius < p.MinRadius) {
		return fmt.Errorf("invalid circle radius range [%d,%d]", p.MinRadius, p.MaxRadius)
	}
	if p.Param1 <= 0 || p.Param2 <= 0 {
		return fmt.Errorf("param1 and param2 must be > 0")
	}
	return nil
}

// Circle is one detected circle in image coordinates.
type Circle struct {
	Center geometry.Point2D
	Radius float64
}

// HoughCircles runs the transform on the 8-bit scaled image.
func HoughCircles(image *img.Image16, p HoughParams) ([]Circle, error) {
	src, err := image.ToMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	src.ConvertToWithParams(&gray, gocv.MatTypeCV8UC1, 1.0/257.0, 0)

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(gray, &circles, gocv.HoughGradient, 1,
		p.MinDistance, p.Param1, p.Param2, p.MinRadius, p.MaxRadius)

	if circles.Empty() || circles.Cols() == 0 {
		return nil, nil
	}
	out := make([]Circle, circles.Cols())
	for i := range out {
		out[i] = Circle{
			Center: geometry.Point2D{
				X: float64(circles.GetFloatAt(0, i*3)),
				Y: float64(circles.GetFloatAt(0, i*3+1)),
			},
			Radius: float64(circles.GetFloatAt(0, i*3+2)),
		}
	}
	return out, nil
}

// CirclesToObjects creates one ROI per circle with a filled disk mask,
// clipped to the image.
func CirclesToObjects(circles []Circle, imageSize geometry.Size, opts SegmentOptions) (*roi.ObjectList, error) {
	list := roi.NewObjectList()
	bounds := geometry.RectInt{Width: imageSize.Width, Height: imageSize.Height}
	var index uint32
	for _, c := range circles {
		r := int(math.Ceil(c.Radius))
		x0 := int(math.Round(c.Center.X)) - r
		y0 := int(math.Round(c.Center.Y)) - r
		box := geometry.NewRectInt(x0, y0, 2*r+1, 2*r+1).Intersect(bounds)
		if box.Empty() {
			continue
		}
		mask := img.NewMask(box.Width, box.Height)
		mask.FillCircle(c.Center.X-float64(box.X), c.Center.Y-float64(box.Y), c.Radius)
		if mask.CountNonZero() == 0 {
			continue
		}
		obj, err := roi.New(roi.Params{
			Index:        index,
			Confidence:   opts.Confidence,
			ClassId:      opts.ClassId,
			Plane:        opts.Plane,
			BBox:         box,
			Mask:         mask,
			ImageSize:    imageSize,
			SnapAreaSize: opts.SnapAreaSize,
		})
		if err != nil {
			return nil, err
		}
		list.Push(obj)
		index++
	}
	return list, nil
}
