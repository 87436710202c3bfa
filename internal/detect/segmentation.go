package detect

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/roi"
	"imagec/pkg/geometry"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	// MaxContoursWarn is the contour count above which a warning is logged.
	MaxContoursWarn = 50000
	// MaxContours is the contour count above which a tile is rejected.
	MaxContours = 100000
)

// Hierarchy selects which contours of a binary image become objects.
type Hierarchy int

const (
	// HierarchyOuter keeps outer boundaries. Holes are removed from the masks.
	HierarchyOuter Hierarchy = iota
	// HierarchyInner keeps the holes inside objects.
	HierarchyInner
	// HierarchyInnerAndOuter keeps both.
	HierarchyInnerAndOuter
)

func (h Hierarchy) String() string {
	switch h {
	case HierarchyInner:
		return "INNER"
	case HierarchyInnerAndOuter:
		return "INNER_AND_OUTER"
	default:
		return "OUTER"
	}
}

func (h Hierarchy) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hierarchy) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "OUTER":
		*h = HierarchyOuter
	case "INNER":
		*h = HierarchyInner
	case "INNER_AND_OUTER":
		*h = HierarchyInnerAndOuter
	default:
		return fmt.Errorf("unknown contour hierarchy %q", string(text))
	}
	return nil
}

func (h Hierarchy) accepts(inner bool) bool {
	switch h {
	case HierarchyInner:
		return inner
	case HierarchyInnerAndOuter:
		return true
	default:
		return !inner
	}
}

// SegmentOptions are the attributes given to every ROI found.
type SegmentOptions struct {
	Hierarchy    Hierarchy
	ClassId      enums.ClassId
	Plane        enums.PlaneId
	Confidence   float32
	SnapAreaSize int
}

// FindObjects creates one ROI per contour of the binary mask. The ROI mask is
// the filled contour ANDed with the binary image, so holes are not part of an
// outer object. Inner contours get the hole pixels as mask.
func FindObjects(binary *img.Mask, opts SegmentOptions) (*roi.ObjectList, error) {
	list := roi.NewObjectList()
	if binary == nil || binary.Width == 0 || binary.Height == 0 {
		return list, nil
	}

	mat, err := binary.ToMat()
	if err != nil {
		return nil, fmt.Errorf("binary to mat: %w", err)
	}
	defer mat.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	contours := gocv.FindContoursWithParams(mat, &hierarchy, gocv.RetrievalCComp, gocv.ChainApproxNone)
	defer contours.Close()

	n := contours.Size()
	if n > MaxContours {
		return nil, apperr.NewProcessingError("too many spots", fmt.Errorf("%d contours found", n))
	}
	if n > MaxContoursWarn {
		logger.WithFields(logrus.Fields{"contours": n}).Warn("Too many particles found, seems to be noise")
	}

	size := binary.Size()
	var index uint32
	for i := 0; i < n; i++ {
		inner := false
		if !hierarchy.Empty() {
			inner = hierarchy.GetVeciAt(0, i)[3] != -1
		}
		if !opts.Hierarchy.accepts(inner) {
			continue
		}

		pv := contours.At(i)
		box := geometry.RectFromImage(gocv.BoundingRect(pv))
		pts := pv.ToPoints()
		rel := make([]image.Point, len(pts))
		contour := make([]geometry.PointInt, len(pts))
		for k, p := range pts {
			rel[k] = image.Pt(p.X-box.X, p.Y-box.Y)
			contour[k] = geometry.PointInt{X: rel[k].X, Y: rel[k].Y}
		}

		mask, err := FillContour(rel, box.Width, box.Height)
		if err != nil {
			return nil, err
		}
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				if binary.IsSet(box.X+x, box.Y+y) == inner {
					mask.Pix[y*mask.Width+x] = 0
				}
			}
		}

		r, err := roi.New(roi.Params{
			Index:        index,
			Confidence:   opts.Confidence,
			ClassId:      opts.ClassId,
			Plane:        opts.Plane,
			BBox:         box,
			Mask:         mask,
			Contour:      contour,
			ImageSize:    size,
			SnapAreaSize: opts.SnapAreaSize,
		})
		if err != nil {
			return nil, err
		}
		list.Push(r)
		index++
	}
	return list, nil
}

// FillContour rasterizes a closed contour, outline included, into a mask of
// the given size.
func FillContour(points []image.Point, width, height int) (*img.Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid contour box %dx%d", width, height)
	}
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	defer canvas.Close()
	if len(points) > 0 {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{points})
		defer pv.Close()
		gocv.DrawContours(&canvas, pv, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	return img.MaskFromMat(canvas)
}

// MaskFromBinary returns a mask that is set where the image equals value.
func MaskFromBinary(image *img.Image16, value uint16) *img.Mask {
	mask := img.NewMask(image.Width, image.Height)
	for i, v := range image.Pix {
		if v == value {
			mask.Pix[i] = 255
		}
	}
	return mask
}
