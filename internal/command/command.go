// Package command implements the pipeline steps. Every step works on the
// running image of an iteration and on the objects found so far; a factory
// builds the step from its settings.
package command

import (
	"context"
	"fmt"
	"image/color"

	"imagec/internal/apperr"
	"imagec/internal/detect"
	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/roi"
	"imagec/internal/settings"
	"imagec/pkg/geometry"
)

// Context is the state of one (t, z, c, tile) iteration as seen by a
// command. It is implemented by the processor.
type Context interface {
	detect.ImageSource

	// Ctx is cancelled when the run is aborted.
	Ctx() context.Context
	ActIterator() enums.PlaneId
	TileInfo() enums.TileId
	// ImageSize is the size of the full image, not the tile.
	ImageSize() geometry.Size
	AppliedMinThreshold() uint16
	SetAppliedThreshold(min, max uint16)
	StoreImageToMemory(idx enums.MemoryIdx, image *img.Image16, scope enums.MemoryScope)
	// NextObjectIndex returns an index that is unique within the image.
	NextObjectIndex() uint32
	// ControlImagePath returns where a control image of the running step is
	// written, or "" when control images are switched off.
	ControlImagePath(prefix string) string
	ClassColor(c enums.ClassId) color.RGBA
}

// Command is one executable pipeline step. Image steps replace *image, object
// steps read and write objects.
type Command interface {
	Execute(ctx Context, image *img.Image16, objects roi.ObjectMap) error
}

// passThrough is used for disabled steps.
type passThrough struct{}

func (passThrough) Execute(Context, *img.Image16, roi.ObjectMap) error { return nil }

// Factory builds the command of a step. The settings must have been checked.
func Factory(step *settings.PipelineStep) (Command, error) {
	if step.Disabled {
		return passThrough{}, nil
	}
	cfg, err := step.Command()
	if err != nil {
		return nil, apperr.NewConfigurationError("invalid pipeline step", err)
	}
	switch s := cfg.(type) {
	case *settings.ImageLoaderSettings:
		return &ImageLoader{settings: *s}, nil
	case *settings.MedianSubtractSettings:
		return &MedianSubtract{settings: *s}, nil
	case *settings.RollingBallSettings:
		return &RollingBall{settings: *s}, nil
	case *settings.MarginCropSettings:
		return &MarginCrop{settings: *s}, nil
	case *settings.ImageMathSettings:
		return &ImageMath{settings: *s}, nil
	case *settings.ImageCacheSettings:
		return &ImageCache{settings: *s}, nil
	case *settings.ThresholdSettings:
		return &Threshold{settings: *s}, nil
	case *settings.ClassifierSettings:
		return &Classifier{settings: *s}, nil
	case *settings.HoughTransformSettings:
		return &HoughTransform{settings: *s}, nil
	case *settings.AiClassifierSettings:
		return &AiClassifier{settings: *s}, nil
	case *settings.MeasureSettings:
		return &Measure{settings: *s}, nil
	case *settings.MeasureDistanceSettings:
		return &MeasureDistance{settings: *s}, nil
	case *settings.ObjectsToImageSettings:
		return &ObjectsToImage{settings: *s}, nil
	case *settings.IntersectionSettings:
		return &Intersection{settings: *s}, nil
	case *settings.BlurSettings:
		return &Blur{settings: *s}, nil
	case *settings.ImageSaverSettings:
		return &ImageSaver{settings: *s}, nil
	case *settings.MorphologicalTransformSettings:
		return &MorphologicalTransform{settings: *s}, nil
	case *settings.EdgeDetectionSettings:
		return &EdgeDetection{settings: *s}, nil
	case *settings.RankFilterSettings:
		return &RankFilter{settings: *s}, nil
	case *settings.EnhanceContrastSettings:
		return &EnhanceContrast{settings: *s}, nil
	case *settings.ThresholdAdaptiveSettings:
		return &ThresholdAdaptive{settings: *s}, nil
	case *settings.ReclassifySettings:
		return &Reclassify{settings: *s}, nil
	case *settings.ThresholdValidatorSettings:
		return &ThresholdValidator{settings: *s}, nil
	}
	return nil, apperr.NewConfigurationError(fmt.Sprintf("no command for step %s", step.Name()), nil)
}

// resolveClasses maps class references to concrete classes, dropping NONE.
func resolveClasses(ctx Context, in []enums.ClassIdIn) []enums.ClassId {
	out := make([]enums.ClassId, 0, len(in))
	for _, c := range in {
		if id := ctx.ClassId(c); id != enums.ClassNone {
			out = append(out, id)
		}
	}
	return out
}

// classifyInto runs the filters of the object class of modelClassId and
// stores the kept ROIs with a fresh index.
func classifyInto(ctx Context, classes []detect.ObjectClass, modelClassId int, list *roi.ObjectList, objects roi.ObjectMap) error {
	return detect.ClassifyList(ctx, classes, modelClassId, list, func(r *roi.ROI) {
		r.Index = ctx.NextObjectIndex()
		objects.Push(r)
	})
}
