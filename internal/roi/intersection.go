package roi

import (
	img "imagec/internal/image"
	"imagec/pkg/geometry"
)

// overlap is the pixel count of two snap masks inside their common box.
type overlap struct {
	rect  geometry.RectInt
	mask  *img.Mask
	nBoth int
	ratio float64
}

// calcOverlap walks the intersected snap boxes. The ratio divides the common
// pixels by the pixel count of the smaller of both masks.
func (r *ROI) calcOverlap(other *ROI, withMask bool) overlap {
	var res overlap
	res.rect = r.SnapAreaBBox().Intersect(other.SnapAreaBBox())
	if res.rect.Empty() {
		return res
	}
	box1, box2 := r.SnapAreaBBox(), other.SnapAreaBBox()
	mask1, mask2 := r.SnapAreaMask(), other.SnapAreaMask()
	if withMask {
		res.mask = img.NewMask(res.rect.Width, res.rect.Height)
	}
	for y := 0; y < res.rect.Height; y++ {
		for x := 0; x < res.rect.Width; x++ {
			ax, ay := res.rect.X+x, res.rect.Y+y
			if mask1.IsSet(ax-box1.X, ay-box1.Y) && mask2.IsSet(ax-box2.X, ay-box2.Y) {
				res.nBoth++
				if withMask {
					res.mask.Pix[y*res.rect.Width+x] = 255
				}
			}
		}
	}
	if smallest := min(r.snapAreaSize(), other.snapAreaSize()); smallest > 0 {
		res.ratio = float64(res.nBoth) / float64(smallest)
	}
	return res
}

// CalcIntersection builds the ROI covering the pixels both ROIs share. The
// boolean is false, and no ROI is built, when they share no pixel. A result
// whose ratio is below minIntersection is marked TooLessOverlapping. The
// new ROI carries the ratio as confidence and the class of the receiver.
func (r *ROI) CalcIntersection(other *ROI, minIntersection float64) (*ROI, bool) {
	ov := r.calcOverlap(other, true)
	if ov.nBoth == 0 {
		return nil, false
	}
	res, err := New(Params{
		Index:      r.Index,
		Confidence: float32(ov.ratio),
		ClassId:    r.ClassId(),
		Plane:      r.Plane(),
		BBox:       ov.rect,
		Mask:       ov.mask,
		ImageSize:  r.ImageSize,
	})
	if err != nil {
		return nil, false
	}
	if ov.ratio < minIntersection {
		res.Validity = TooLessOverlapping
	} else {
		res.Validity = Valid
	}
	return res, true
}

// IsIntersecting is the light form of CalcIntersection. It answers the same
// boolean without building a ROI: true when at least one pixel is shared.
// minIntersection only decides the validity of a built intersection, use
// Overlap for ratio based decisions.
func (r *ROI) IsIntersecting(other *ROI, minIntersection float64) bool {
	return r.calcOverlap(other, false).nBoth > 0
}

// Overlap returns the intersection ratio and whether any pixel is shared.
func (r *ROI) Overlap(other *ROI) (float64, bool) {
	ov := r.calcOverlap(other, false)
	return ov.ratio, ov.nBoth > 0
}
