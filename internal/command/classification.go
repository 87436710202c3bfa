package command

import (
	"imagec/internal/apperr"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/logger"
	"imagec/internal/roi"
	"imagec/internal/settings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Reclassify moves, or copies, the ROIs of the input classes that pass the
// intersection and intensity conditions into the output class.
type Reclassify struct {
	settings settings.ReclassifySettings
}

func (c *Reclassify) Execute(ctx Context, _ *img.Image16, objects roi.ObjectMap) error {
	s := c.settings
	output := ctx.ClassId(s.OutputClass)
	if output == enums.ClassNone {
		return nil
	}
	var plane *img.Image16
	if s.Intensity != nil {
		var err error
		if plane, err = ctx.LoadImageFromCache(s.Intensity.ImageIn); err != nil {
			return err
		}
	}
	others := resolveClasses(ctx, s.IntersectWith)

	var copies []*roi.ROI
	matched := 0
	for _, class := range resolveClasses(ctx, s.InputClasses) {
		list, ok := objects[class]
		if !ok {
			continue
		}
		var hits map[*roi.ROI]bool
		if len(others) > 0 {
			hits = intersectingWith(list, objects, others, s.MinIntersection)
		}
		for _, r := range list.Rois() {
			if hits != nil && !hits[r] {
				continue
			}
			if plane != nil {
				avg := r.IntensityIn(plane).Avg
				if avg < float64(s.Intensity.MinIntensity) || avg > float64(s.Intensity.MaxIntensity) {
					continue
				}
			}
			matched++
			if s.Mode == settings.ReclassifyCopy {
				cp := r.Clone()
				cp.ChangeClass(output, cp.Confidence)
				cp.Index = ctx.NextObjectIndex()
				copies = append(copies, cp)
				continue
			}
			r.ChangeClass(output, r.Confidence)
		}
	}
	if s.Mode == settings.ReclassifyMove {
		objects.Reclassify()
	}
	for _, r := range copies {
		objects.Push(r)
	}
	logger.WithFields(logrus.Fields{
		"tile":    ctx.TileInfo().String(),
		"class":   output.String(),
		"objects": matched,
	}).Debug("objects reclassified")
	return nil
}

// intersectingWith returns the ROIs of list that overlap a ROI of one of the
// classes by at least minIntersection.
func intersectingWith(list *roi.ObjectList, objects roi.ObjectMap, classes []enums.ClassId, minIntersection float64) map[*roi.ROI]bool {
	hits := map[*roi.ROI]bool{}
	for _, class := range classes {
		other, ok := objects[class]
		if !ok {
			continue
		}
		for _, pair := range list.Candidates(other) {
			if pair[0] == pair[1] || hits[pair[0]] {
				continue
			}
			if ratio, ok := pair[0].Overlap(pair[1]); ok && ratio >= minIntersection {
				hits[pair[0]] = true
			}
		}
	}
	return hits
}

// ThresholdValidator flags the ROIs of the input classes with
// PossibleWrongThreshold when the applied minimum threshold is below the
// histogram peak of the image times the configured factor.
type ThresholdValidator struct {
	settings settings.ThresholdValidatorSettings
}

func (c *ThresholdValidator) Execute(ctx Context, _ *img.Image16, objects roi.ObjectMap) error {
	plane, err := ctx.LoadImageFromCache(c.settings.ImageIn)
	if err != nil {
		return err
	}
	peak, err := histogramPeak(plane)
	if err != nil {
		return apperr.NewProcessingError("threshold validator", err)
	}
	applied := ctx.AppliedMinThreshold()
	if float64(applied) >= float64(peak)*c.settings.HistMinThresholdFilterFactor {
		return nil
	}
	flagged := 0
	for _, class := range resolveClasses(ctx, c.settings.InputClasses) {
		list, ok := objects[class]
		if !ok {
			continue
		}
		for _, r := range list.Rois() {
			r.Validity |= roi.PossibleWrongThreshold
			flagged++
		}
	}
	logger.WithFields(logrus.Fields{
		"tile":      ctx.TileInfo().String(),
		"threshold": applied,
		"peak":      peak,
		"objects":   flagged,
	}).Warn("threshold below histogram peak")
	return nil
}

// histogramPeak returns the most frequent gray value.
func histogramPeak(frame *img.Image16) (int, error) {
	hist, err := histogramMat(frame)
	if err != nil {
		return 0, err
	}
	defer hist.Close()
	_, _, _, maxLoc := gocv.MinMaxLoc(hist)
	return maxLoc.Y, nil
}
