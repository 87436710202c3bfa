package settings

import (
	"fmt"

	"imagec/internal/enums"
)

// Command is the part every command configuration shares.
type Command interface {
	Check() error
	InOuts() enums.InOuts
}

// PipelineStep holds exactly one command configuration. Disabled steps are
// skipped by the processor and pass their input through.
type PipelineStep struct {
	Disabled bool `json:"disabled"`
	Locked   bool `json:"locked"`

	ImageLoader     *ImageLoaderSettings     `json:"$imageLoader,omitempty"`
	MedianSubtract  *MedianSubtractSettings  `json:"$medianSubtract,omitempty"`
	RollingBall     *RollingBallSettings     `json:"$rollingBall,omitempty"`
	Crop            *MarginCropSettings      `json:"$crop,omitempty"`
	ImageMath       *ImageMathSettings       `json:"$imageMath,omitempty"`
	ImageToCache    *ImageCacheSettings      `json:"$imageToCache,omitempty"`
	Threshold       *ThresholdSettings       `json:"$threshold,omitempty"`
	Classify        *ClassifierSettings      `json:"$classify,omitempty"`
	HoughTransform  *HoughTransformSettings  `json:"$houghTransform,omitempty"`
	AiClassify      *AiClassifierSettings    `json:"$aiClassify,omitempty"`
	Measure         *MeasureSettings         `json:"$measure,omitempty"`
	MeasureDistance *MeasureDistanceSettings `json:"$measureDistance,omitempty"`
	ObjectsToImage  *ObjectsToImageSettings  `json:"$objectsToImage,omitempty"`
	Intersection    *IntersectionSettings    `json:"$intersection,omitempty"`
	Blur            *BlurSettings            `json:"$blur,omitempty"`
	SaveImage       *ImageSaverSettings      `json:"$saveImage,omitempty"`

	Morphology         *MorphologicalTransformSettings `json:"$morphologicalTransform,omitempty"`
	EdgeDetection      *EdgeDetectionSettings          `json:"$sobel,omitempty"`
	RankFilter         *RankFilterSettings             `json:"$rankFilter,omitempty"`
	EnhanceContrast    *EnhanceContrastSettings        `json:"$enhanceContrast,omitempty"`
	ThresholdAdaptive  *ThresholdAdaptiveSettings      `json:"$thresholdAdaptive,omitempty"`
	Reclassify         *ReclassifySettings             `json:"$reclassify,omitempty"`
	ThresholdValidator *ThresholdValidatorSettings     `json:"$thresholdValidator,omitempty"`
}

func (s *PipelineStep) variants() []Command {
	var out []Command
	add := func(present bool, c Command) {
		if present {
			out = append(out, c)
		}
	}
	add(s.ImageLoader != nil, s.ImageLoader)
	add(s.MedianSubtract != nil, s.MedianSubtract)
	add(s.RollingBall != nil, s.RollingBall)
	add(s.Crop != nil, s.Crop)
	add(s.ImageMath != nil, s.ImageMath)
	add(s.ImageToCache != nil, s.ImageToCache)
	add(s.Threshold != nil, s.Threshold)
	add(s.Classify != nil, s.Classify)
	add(s.HoughTransform != nil, s.HoughTransform)
	add(s.AiClassify != nil, s.AiClassify)
	add(s.Measure != nil, s.Measure)
	add(s.MeasureDistance != nil, s.MeasureDistance)
	add(s.ObjectsToImage != nil, s.ObjectsToImage)
	add(s.Intersection != nil, s.Intersection)
	add(s.Blur != nil, s.Blur)
	add(s.SaveImage != nil, s.SaveImage)
	add(s.Morphology != nil, s.Morphology)
	add(s.EdgeDetection != nil, s.EdgeDetection)
	add(s.RankFilter != nil, s.RankFilter)
	add(s.EnhanceContrast != nil, s.EnhanceContrast)
	add(s.ThresholdAdaptive != nil, s.ThresholdAdaptive)
	add(s.Reclassify != nil, s.Reclassify)
	add(s.ThresholdValidator != nil, s.ThresholdValidator)
	return out
}

// Command returns the active command configuration.
func (s *PipelineStep) Command() (Command, error) {
	v := s.variants()
	if len(v) != 1 {
		return nil, fmt.Errorf("a pipeline step needs exactly one command, got %d", len(v))
	}
	return v[0], nil
}

// Name returns the JSON tag of the active command.
func (s *PipelineStep) Name() string {
	c, err := s.Command()
	if err != nil {
		return "invalid"
	}
	switch c.(type) {
	case *ImageLoaderSettings:
		return "imageLoader"
	case *MedianSubtractSettings:
		return "medianSubtract"
	case *RollingBallSettings:
		return "rollingBall"
	case *MarginCropSettings:
		return "crop"
	case *ImageMathSettings:
		return "imageMath"
	case *ImageCacheSettings:
		return "imageToCache"
	case *ThresholdSettings:
		return "threshold"
	case *ClassifierSettings:
		return "classify"
	case *HoughTransformSettings:
		return "houghTransform"
	case *AiClassifierSettings:
		return "aiClassify"
	case *MeasureSettings:
		return "measure"
	case *MeasureDistanceSettings:
		return "measureDistance"
	case *ObjectsToImageSettings:
		return "objectsToImage"
	case *IntersectionSettings:
		return "intersection"
	case *BlurSettings:
		return "blur"
	case *ImageSaverSettings:
		return "saveImage"
	case *MorphologicalTransformSettings:
		return "morphologicalTransform"
	case *EdgeDetectionSettings:
		return "sobel"
	case *RankFilterSettings:
		return "rankFilter"
	case *EnhanceContrastSettings:
		return "enhanceContrast"
	case *ThresholdAdaptiveSettings:
		return "thresholdAdaptive"
	case *ReclassifySettings:
		return "reclassify"
	case *ThresholdValidatorSettings:
		return "thresholdValidator"
	}
	return "unknown"
}

// InOuts returns the signature of the active command.
func (s *PipelineStep) InOuts() enums.InOuts {
	c, err := s.Command()
	if err != nil {
		return enums.InOuts{}
	}
	return c.InOuts()
}

// Check validates the step.
func (s *PipelineStep) Check() error {
	c, err := s.Command()
	if err != nil {
		return err
	}
	return c.Check()
}
