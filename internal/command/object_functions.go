package command

import (
	"fmt"
	"image"
	"image/color"

	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Measure stores the intensity of every ROI of the input classes in each
// configured image. The measurement is keyed by the channel of the image.
type Measure struct {
	settings settings.MeasureSettings
}

func (c *Measure) Execute(ctx Context, _ *img.Image16, objects roi.ObjectMap) error {
	classes := resolveClasses(ctx, c.settings.InputClasses)
	for _, id := range c.settings.PlanesIn {
		plane, err := ctx.LoadImageFromCache(id)
		if err != nil {
			return err
		}
		channel := id.ImagePlane.CStack
		if channel < 0 {
			channel = ctx.ActIterator().CStack
		}
		for _, class := range classes {
			list, ok := objects[class]
			if !ok {
				continue
			}
			for _, r := range list.Rois() {
				r.MeasureIntensityAndAdd(channel, plane)
			}
		}
	}
	return nil
}

// MeasureDistance measures the distance between every ROI of the first
// class and every other ROI of the second class. Both ROIs of a pair store
// the distance seen from their own center.
type MeasureDistance struct {
	settings settings.MeasureDistanceSettings
}

func (c *MeasureDistance) Execute(ctx Context, _ *img.Image16, objects roi.ObjectMap) error {
	fromClass := ctx.ClassId(c.settings.InputClassFrom)
	toClass := ctx.ClassId(c.settings.InputClassTo)
	from, okFrom := objects[fromClass]
	to, okTo := objects[toClass]
	if !okFrom || !okTo {
		return nil
	}
	sameClass := fromClass == toClass
	for i, a := range from.Rois() {
		for j, b := range to.Rois() {
			// within one class every pair is visited once
			if a == b || (sameClass && j < i) {
				continue
			}
			a.AddDistance(a.MeasureDistance(b))
			b.AddDistance(b.MeasureDistance(a))
		}
	}
	return nil
}

// rasterize paints the masks of all ROIs of classes with 65535.
func rasterize(objects roi.ObjectMap, classes []enums.ClassId, width, height int) *img.Image16 {
	out := img.NewImage16(width, height)
	for _, class := range classes {
		list, ok := objects[class]
		if !ok {
			continue
		}
		for _, r := range list.Rois() {
			for y := 0; y < r.BBox.Height; y++ {
				for x := 0; x < r.BBox.Width; x++ {
					if !r.Mask.IsSet(x, y) {
						continue
					}
					ix, iy := r.BBox.X+x, r.BBox.Y+y
					if ix < 0 || iy < 0 || ix >= width || iy >= height {
						continue
					}
					out.Pix[iy*width+ix] = 65535
				}
			}
		}
	}
	return out
}

// ObjectsToImage turns objects back into a binary image.
type ObjectsToImage struct {
	settings settings.ObjectsToImageSettings
}

func (c *ObjectsToImage) Execute(ctx Context, frame *img.Image16, objects roi.ObjectMap) error {
	first := rasterize(objects, resolveClasses(ctx, c.settings.ClassesIn), frame.Width, frame.Height)
	fn := c.settings.Function
	if fn == settings.ObjectsNone {
		*frame = *first
		return nil
	}

	inputs := []*img.Image16{first}
	if fn != settings.ObjectsNot {
		inputs = append(inputs, rasterize(objects, resolveClasses(ctx, c.settings.ClassesInSecond), frame.Width, frame.Height))
	}
	out, err := applyMat(func(src []gocv.Mat, dst *gocv.Mat) {
		switch fn {
		case settings.ObjectsNot:
			gocv.BitwiseNot(src[0], dst)
		case settings.ObjectsAnd:
			gocv.BitwiseAnd(src[0], src[1], dst)
		case settings.ObjectsAndNot:
			inverted := gocv.NewMat()
			defer inverted.Close()
			gocv.BitwiseNot(src[1], &inverted)
			gocv.BitwiseAnd(src[0], inverted, dst)
		case settings.ObjectsOr:
			gocv.BitwiseOr(src[0], src[1], dst)
		case settings.ObjectsXor:
			gocv.BitwiseXor(src[0], src[1], dst)
		}
	}, inputs...)
	if err != nil {
		return apperr.NewProcessingError("objects to image", err)
	}
	*frame = *out
	return nil
}

// Intersection relates the ROIs of every pair of input classes. Each ROI of
// a pair records the other one as valid or invalid intersecting ROI. With an
// output class the valid intersection areas become new objects.
type Intersection struct {
	settings settings.IntersectionSettings
}

func (c *Intersection) Execute(ctx Context, _ *img.Image16, objects roi.ObjectMap) error {
	classes := resolveClasses(ctx, c.settings.InputClasses)
	output := ctx.ClassId(c.settings.OutputClass)
	var created []*roi.ROI

	for i := 0; i < len(classes); i++ {
		for j := i + 1; j < len(classes); j++ {
			if err := ctx.Ctx().Err(); err != nil {
				return err
			}
			a, okA := objects[classes[i]]
			b, okB := objects[classes[j]]
			if !okA || !okB {
				continue
			}
			for _, pair := range a.Candidates(b) {
				res, ok := pair[0].CalcIntersection(pair[1], c.settings.MinIntersection)
				if !ok {
					continue
				}
				valid := res.Validity.IsValid()
				pair[0].AddIntersecting(pair[1].ClassId(), pair[1].Index, valid)
				pair[1].AddIntersecting(pair[0].ClassId(), pair[0].Index, valid)
				if valid && output != enums.ClassNone {
					res.ChangeClass(output, res.Confidence)
					created = append(created, res)
				}
			}
		}
	}

	for _, r := range created {
		r.Index = ctx.NextObjectIndex()
		objects.Push(r)
	}
	if len(created) > 0 {
		logger.WithFields(logrus.Fields{
			"tile":    ctx.TileInfo().String(),
			"class":   output.String(),
			"objects": len(created),
		}).Debug("intersection objects created")
	}
	return nil
}

// ImageSaver writes the running image with the ROI contours of the
// configured classes as control image.
type ImageSaver struct {
	settings settings.ImageSaverSettings
}

func (c *ImageSaver) Execute(ctx Context, frame *img.Image16, objects roi.ObjectMap) error {
	path := ctx.ControlImagePath(c.settings.NamePrefix)
	if path == "" {
		return nil
	}
	return WriteControlImage(path, frame, objects, resolveClasses(ctx, c.settings.ClassesIn), ctx.ClassColor)
}

// WriteControlImage renders frame stretched to 8 bit and draws the contours
// of all ROIs of classes on top.
func WriteControlImage(path string, frame *img.Image16, objects roi.ObjectMap, classes []enums.ClassId, colorOf func(enums.ClassId) color.RGBA) error {
	src, err := frame.ToMat()
	if err != nil {
		return apperr.NewProcessingError("control image", err)
	}
	defer src.Close()

	lo, hi := frame.MinMax()
	alpha := 1.0
	if hi > lo {
		alpha = 255.0 / float64(hi-lo)
	}
	gray := gocv.NewMat()
	defer gray.Close()
	src.ConvertToWithParams(&gray, gocv.MatTypeCV8UC1, float32(alpha), float32(-float64(lo)*alpha))

	canvas := gocv.NewMat()
	defer canvas.Close()
	gocv.CvtColor(gray, &canvas, gocv.ColorGrayToBGR)

	for _, class := range classes {
		list, ok := objects[class]
		if !ok {
			continue
		}
		col := colorOf(class)
		for _, r := range list.Rois() {
			if len(r.Contour) == 0 {
				continue
			}
			pts := make([]image.Point, len(r.Contour))
			for i, p := range r.Contour {
				pts[i] = image.Pt(r.BBox.X+p.X, r.BBox.Y+p.Y)
			}
			pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
			gocv.DrawContours(&canvas, pv, 0, col, 1)
			pv.Close()
		}
	}

	if !gocv.IMWrite(path, canvas) {
		return apperr.NewResourceError("control image", fmt.Errorf("could not write %s", path))
	}
	return nil
}
