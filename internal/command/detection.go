package command

import (
	"sync"

	"imagec/internal/apperr"
	"imagec/internal/detect"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"github.com/sirupsen/logrus"
)

// Threshold binarises the image. Every level writes its gray value where
// lower < v <= upper, later levels overwrite earlier ones.
type Threshold struct {
	settings settings.ThresholdSettings
}

func (c *Threshold) Execute(ctx Context, frame *img.Image16, _ roi.ObjectMap) error {
	out := img.NewImage16(frame.Width, frame.Height)
	for i, t := range c.settings.Thresholds {
		lo, hi := detect.AutoThreshold(frame, t.Mode, t.Limits())
		if i == 0 {
			ctx.SetAppliedThreshold(lo, hi)
		}
		detect.BinarizeInto(out, frame, lo, hi, t.ModelClassId)
	}
	*frame = *out
	return nil
}

// Classifier segments a binary image. Every configured model class is the
// gray value the objects are searched in.
type Classifier struct {
	settings settings.ClassifierSettings
}

func (c *Classifier) Execute(ctx Context, frame *img.Image16, objects roi.ObjectMap) error {
	for _, oc := range c.settings.ModelClasses {
		if err := ctx.Ctx().Err(); err != nil {
			return err
		}
		if oc.ModelClassId <= 0 || oc.ModelClassId > 65535 {
			continue
		}
		list, err := detect.FindObjects(detect.MaskFromBinary(frame, uint16(oc.ModelClassId)), detect.SegmentOptions{
			Hierarchy:    c.settings.HierarchyMode,
			ClassId:      enums.ClassUndefined,
			Plane:        ctx.ActIterator(),
			Confidence:   float32(ctx.AppliedMinThreshold()),
			SnapAreaSize: c.settings.SnapAreaSize,
		})
		if err != nil {
			return err
		}
		if err := classifyInto(ctx, c.settings.ModelClasses, oc.ModelClassId, list, objects); err != nil {
			return err
		}
	}
	return nil
}

// HoughTransform detects circles and classifies them as model class 0.
type HoughTransform struct {
	settings settings.HoughTransformSettings
}

func (c *HoughTransform) Execute(ctx Context, frame *img.Image16, objects roi.ObjectMap) error {
	d := &detect.HoughDetector{
		Params: c.settings.HoughParams,
		Options: detect.SegmentOptions{
			ClassId:      enums.ClassUndefined,
			Plane:        ctx.ActIterator(),
			SnapAreaSize: c.settings.SnapAreaSize,
		},
	}
	list, err := d.Forward(ctx.Ctx(), frame, frame)
	if err != nil {
		return apperr.NewProcessingError("hough transform", err)
	}
	return classifyInto(ctx, c.settings.ModelClasses, 0, list, objects)
}

// AiClassifier runs a model on the image. The model is loaded on first use
// and shared by all iterations of the step.
type AiClassifier struct {
	settings settings.AiClassifierSettings

	once     sync.Once
	detector *detect.AiDetector
	loadErr  error
}

func (c *AiClassifier) load() (*detect.AiDetector, error) {
	c.once.Do(func() {
		c.detector, c.loadErr = detect.NewAiDetector(c.settings.AiParams)
		if c.loadErr == nil {
			logger.WithField("model", c.settings.ModelPath).Debug("model loaded")
		}
	})
	return c.detector, c.loadErr
}

func (c *AiClassifier) Execute(ctx Context, frame *img.Image16, objects roi.ObjectMap) error {
	d, err := c.load()
	if err != nil {
		return err
	}
	list, err := d.Forward(ctx.Ctx(), frame, frame)
	if err != nil {
		return err
	}

	byModelClass := map[int]*roi.ObjectList{}
	var order []int
	for _, r := range list.Rois() {
		r.Id.Plane = ctx.ActIterator()
		mc := int(r.ClassId())
		if _, ok := byModelClass[mc]; !ok {
			byModelClass[mc] = roi.NewObjectList()
			order = append(order, mc)
		}
		byModelClass[mc].Push(r)
	}
	logger.WithFields(logrus.Fields{
		"tile":    ctx.TileInfo().String(),
		"objects": list.Len(),
	}).Debug("model prediction")

	for _, mc := range order {
		if err := classifyInto(ctx, c.settings.ModelClasses, mc, byModelClass[mc], objects); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the model.
func (c *AiClassifier) Close() error {
	if c.detector == nil {
		return nil
	}
	return c.detector.Close()
}
