package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"imagec/internal/detect"
	"imagec/internal/enums"
)

var (
	imageOnly  = enums.InOuts{In: []enums.InOut{enums.IOImage}, Out: enums.IOImage}
	anyToImage = enums.InOuts{In: []enums.InOut{enums.IOImage, enums.IOBinary, enums.IOObject}, Out: enums.IOImage}
	objects    = enums.InOuts{In: []enums.InOut{enums.IOObject}, Out: enums.IOObject}
	passImages = enums.InOuts{In: []enums.InOut{enums.IOImage, enums.IOBinary}, Out: enums.IOOutputEqualToInput}
)

// ImageLoaderSettings reloads an image of the current iteration, by default
// the original plane.
type ImageLoaderSettings struct {
	ImageIn enums.ImageId `json:"imageIn"`
}

func (s *ImageLoaderSettings) UnmarshalJSON(data []byte) error {
	type plain ImageLoaderSettings
	v := plain{ImageIn: enums.CurrentImage()}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ImageLoaderSettings(v)
	return nil
}

func (s *ImageLoaderSettings) Check() error { return nil }

func (s *ImageLoaderSettings) InOuts() enums.InOuts { return anyToImage }

// MedianSubtractSettings subtracts the median filtered image.
type MedianSubtractSettings struct {
	KernelSize int `json:"kernelSize"`
}

func (s *MedianSubtractSettings) Check() error {
	if s.KernelSize < 3 || s.KernelSize%2 == 0 {
		return fmt.Errorf("median kernel size must be odd and >= 3, got %d", s.KernelSize)
	}
	return nil
}

func (s *MedianSubtractSettings) InOuts() enums.InOuts { return imageOnly }

// BallType selects how the rolling ball step estimates the background.
type BallType int

const (
	BallTypeBall BallType = iota
	BallTypeParaboloid
)

func (b BallType) MarshalText() ([]byte, error) {
	if b == BallTypeParaboloid {
		return []byte("PARABOLOID"), nil
	}
	return []byte("BALL"), nil
}

func (b *BallType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "BALL":
		*b = BallTypeBall
	case "PARABOLOID", "SLIDING_PARABOLOID":
		*b = BallTypeParaboloid
	default:
		return fmt.Errorf("unknown ball type %q", string(text))
	}
	return nil
}

// RollingBallSettings removes the background estimated with a ball, or a
// paraboloid, of the given radius.
type RollingBallSettings struct {
	BallType BallType `json:"ballType"`
	BallSize int      `json:"ballSize"`
}

func (s *RollingBallSettings) Check() error {
	if s.BallSize < 1 {
		return fmt.Errorf("rolling ball size must be >= 1, got %d", s.BallSize)
	}
	return nil
}

func (s *RollingBallSettings) InOuts() enums.InOuts { return imageOnly }

// MarginCropSettings zeroes a border of MarginSize pixels.
type MarginCropSettings struct {
	MarginSize int `json:"marginSize"`
}

func (s *MarginCropSettings) Check() error {
	if s.MarginSize < 0 {
		return fmt.Errorf("margin size must be >= 0, got %d", s.MarginSize)
	}
	return nil
}

func (s *MarginCropSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage, enums.IOBinary}, Out: enums.IOOutputEqualToInput}
}

// MathFunction is the elementwise operation of an image math step.
type MathFunction int

const (
	MathInvert MathFunction = iota
	MathAdd
	MathSub
	MathMul
	MathDiv
	MathAnd
	MathOr
	MathXor
	MathMin
	MathMax
	MathAvg
	MathDiff
)

var mathFunctionNames = []string{"INVERT", "ADD", "SUB", "MUL", "DIV", "AND", "OR", "XOR", "MIN", "MAX", "AVG", "DIFF"}

func (f MathFunction) String() string {
	if f < 0 || int(f) >= len(mathFunctionNames) {
		return "UNKNOWN"
	}
	return mathFunctionNames[f]
}

func (f MathFunction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *MathFunction) UnmarshalText(text []byte) error {
	for i, name := range mathFunctionNames {
		if strings.EqualFold(name, string(text)) {
			*f = MathFunction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown image math function %q", string(text))
}

// OperatorOrder selects whether the running image is the left (A) or the
// right operand.
type OperatorOrder int

const (
	OrderAoB OperatorOrder = iota
	OrderBoA
)

func (o OperatorOrder) MarshalText() ([]byte, error) {
	if o == OrderBoA {
		return []byte("BoA"), nil
	}
	return []byte("AoB"), nil
}

func (o *OperatorOrder) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "AOB":
		*o = OrderAoB
	case "BOA":
		*o = OrderBoA
	default:
		return fmt.Errorf("unknown operator order %q", string(text))
	}
	return nil
}

// ImageMathSettings combines the running image (A) with a second image (B).
type ImageMathSettings struct {
	Function         MathFunction  `json:"function"`
	OperatorOrder    OperatorOrder `json:"operatorOrder"`
	InputImageSecond enums.ImageId `json:"inputImageSecond"`
}

func (s *ImageMathSettings) UnmarshalJSON(data []byte) error {
	type plain ImageMathSettings
	v := plain{InputImageSecond: enums.ImageId{ImagePlane: enums.CurrentPlane, ZProjection: enums.ZProjectionDefault, MemoryId: enums.M0}}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ImageMathSettings(v)
	return nil
}

func (s *ImageMathSettings) Check() error {
	if s.Function < MathInvert || s.Function > MathDiff {
		return fmt.Errorf("invalid image math function %d", s.Function)
	}
	return nil
}

func (s *ImageMathSettings) InOuts() enums.InOuts { return passImages }

// ImageCacheSettings stores the running image in a memory slot.
type ImageCacheSettings struct {
	MemoryId    enums.MemoryIdx   `json:"memoryId"`
	MemoryScope enums.MemoryScope `json:"memoryScope"`
}

func (s *ImageCacheSettings) Check() error {
	if s.MemoryId < enums.M0 || s.MemoryId > enums.M10 {
		return fmt.Errorf("memory slot must be M0..M10, got %s", s.MemoryId)
	}
	return nil
}

func (s *ImageCacheSettings) InOuts() enums.InOuts { return passImages }

// Threshold is one binarisation level. Pixels inside the threshold get
// ModelClassId as gray value.
type Threshold struct {
	Mode         detect.ThresholdMethod `json:"mode"`
	ThresholdMin uint16                 `json:"thresholdMin"`
	ThresholdMax uint16                 `json:"thresholdMax"`
	ModelClassId uint16                 `json:"modelClassId"`
}

func (t *Threshold) UnmarshalJSON(data []byte) error {
	type plain Threshold
	v := plain{ThresholdMax: 65535, ModelClassId: 65535}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Threshold(v)
	return nil
}

// Limits returns the configured bounds.
func (t Threshold) Limits() detect.ThresholdLimits {
	return detect.ThresholdLimits{Min: t.ThresholdMin, Max: t.ThresholdMax}
}

// ThresholdSettings binarises the image. Later levels overwrite earlier ones.
type ThresholdSettings struct {
	Thresholds []Threshold `json:"modelClasses"`
}

func (s *ThresholdSettings) Check() error {
	if len(s.Thresholds) == 0 {
		return fmt.Errorf("threshold step needs at least one threshold")
	}
	for i, t := range s.Thresholds {
		if t.ThresholdMax < t.ThresholdMin {
			return fmt.Errorf("threshold %d: max %d is smaller than min %d", i, t.ThresholdMax, t.ThresholdMin)
		}
		if t.ModelClassId == 0 {
			return fmt.Errorf("threshold %d: gray value 0 is background", i)
		}
	}
	return nil
}

func (s *ThresholdSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage}, Out: enums.IOBinary}
}

// ClassifierSettings segments every gray value of a binary image and runs the
// filters of the matching object class.
type ClassifierSettings struct {
	ModelClasses  []detect.ObjectClass `json:"modelClasses"`
	HierarchyMode detect.Hierarchy     `json:"hierarchyMode"`
	SnapAreaSize  int                  `json:"snapAreaSize"`
}

func (s *ClassifierSettings) Check() error {
	return checkModelClasses(s.ModelClasses)
}

func (s *ClassifierSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOBinary}, Out: enums.IOObject}
}

// HoughTransformSettings detects circles. The found circles are reported as
// model class 0.
type HoughTransformSettings struct {
	detect.HoughParams
	ModelClasses []detect.ObjectClass `json:"modelClasses"`
	SnapAreaSize int                  `json:"snapAreaSize"`
}

func (s *HoughTransformSettings) Check() error {
	if err := s.HoughParams.Check(); err != nil {
		return err
	}
	return checkModelClasses(s.ModelClasses)
}

func (s *HoughTransformSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage}, Out: enums.IOObject}
}

// AiClassifierSettings runs a neural network on the image.
type AiClassifierSettings struct {
	detect.AiParams
	ModelClasses []detect.ObjectClass `json:"modelClasses"`
}

func (s *AiClassifierSettings) UnmarshalJSON(data []byte) error {
	type plain AiClassifierSettings
	v := plain{AiParams: detect.DefaultAiParams()}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = AiClassifierSettings(v)
	return nil
}

func (s *AiClassifierSettings) Check() error {
	if err := s.AiParams.Check(); err != nil {
		return err
	}
	return checkModelClasses(s.ModelClasses)
}

func (s *AiClassifierSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage}, Out: enums.IOObject}
}

// MeasureSettings measures the intensity of the input classes in every
// configured plane.
type MeasureSettings struct {
	InputClasses []enums.ClassIdIn `json:"inputClasses"`
	PlanesIn     []enums.ImageId   `json:"planesIn"`
}

func (s *MeasureSettings) Check() error {
	if len(s.InputClasses) == 0 {
		return fmt.Errorf("measure step needs at least one input class")
	}
	if len(s.PlanesIn) == 0 {
		return fmt.Errorf("measure step needs at least one plane")
	}
	return nil
}

func (s *MeasureSettings) InOuts() enums.InOuts { return objects }

// MeasureDistanceSettings measures the centre of mass distance from every ROI
// of InputClassFrom to every ROI of InputClassTo.
type MeasureDistanceSettings struct {
	InputClassFrom enums.ClassIdIn `json:"inputClassFrom"`
	InputClassTo   enums.ClassIdIn `json:"inputClassTo"`
}

func (s *MeasureDistanceSettings) Check() error {
	if s.InputClassFrom == enums.ClassInNone || s.InputClassTo == enums.ClassInNone {
		return fmt.Errorf("measure distance needs two classes")
	}
	return nil
}

func (s *MeasureDistanceSettings) InOuts() enums.InOuts { return objects }

// ObjectsFunction combines two rasterised class sets.
type ObjectsFunction int

const (
	ObjectsNone ObjectsFunction = iota
	ObjectsNot
	ObjectsAnd
	ObjectsAndNot
	ObjectsOr
	ObjectsXor
)

var objectsFunctionNames = []string{"NONE", "NOT", "AND", "AND_NOT", "OR", "XOR"}

func (f ObjectsFunction) String() string {
	if f < 0 || int(f) >= len(objectsFunctionNames) {
		return "UNKNOWN"
	}
	return objectsFunctionNames[f]
}

func (f ObjectsFunction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *ObjectsFunction) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*f = ObjectsNone
		return nil
	}
	for i, name := range objectsFunctionNames {
		if strings.EqualFold(name, string(text)) {
			*f = ObjectsFunction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown objects to image function %q", string(text))
}

// ObjectsToImageSettings rasterises the masks of ClassesIn, optionally
// combined with the masks of ClassesInSecond.
type ObjectsToImageSettings struct {
	ClassesIn       []enums.ClassIdIn `json:"classesIn"`
	Function        ObjectsFunction   `json:"function"`
	ClassesInSecond []enums.ClassIdIn `json:"classesInSecond"`
}

func (s *ObjectsToImageSettings) Check() error {
	if len(s.ClassesIn) == 0 {
		return fmt.Errorf("objects to image needs at least one class")
	}
	switch s.Function {
	case ObjectsNone, ObjectsNot:
	default:
		if len(s.ClassesInSecond) == 0 {
			return fmt.Errorf("function %s needs a second class set", s.Function)
		}
	}
	return nil
}

func (s *ObjectsToImageSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOObject}, Out: enums.IOBinary}
}

// IntersectionSettings relates the ROIs of the input classes pairwise. With
// an OutputClass other than None the intersection areas are added as new
// objects.
type IntersectionSettings struct {
	InputClasses    []enums.ClassIdIn `json:"inputClasses"`
	MinIntersection float64           `json:"minIntersection"`
	OutputClass     enums.ClassIdIn   `json:"outputClass"`
}

func (s *IntersectionSettings) UnmarshalJSON(data []byte) error {
	type plain IntersectionSettings
	v := plain{MinIntersection: 0.1, OutputClass: enums.ClassInNone}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = IntersectionSettings(v)
	return nil
}

func (s *IntersectionSettings) Check() error {
	if len(s.InputClasses) < 2 {
		return fmt.Errorf("intersection needs at least two input classes")
	}
	if s.MinIntersection < 0 || s.MinIntersection > 1 {
		return fmt.Errorf("min intersection must be in [0,1], got %g", s.MinIntersection)
	}
	return nil
}

func (s *IntersectionSettings) InOuts() enums.InOuts { return objects }

// BlurMode selects the smoothing kernel.
type BlurMode int

const (
	BlurGaussian BlurMode = iota
	BlurMedian
	BlurBox
)

func (m BlurMode) MarshalText() ([]byte, error) {
	switch m {
	case BlurMedian:
		return []byte("MEDIAN"), nil
	case BlurBox:
		return []byte("BOX"), nil
	}
	return []byte("GAUSSIAN"), nil
}

func (m *BlurMode) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "GAUSSIAN":
		*m = BlurGaussian
	case "MEDIAN":
		*m = BlurMedian
	case "BOX", "BLUR_MORE":
		*m = BlurBox
	default:
		return fmt.Errorf("unknown blur mode %q", string(text))
	}
	return nil
}

// BlurSettings smooths the image Repeat times.
type BlurSettings struct {
	Mode       BlurMode `json:"mode"`
	KernelSize int      `json:"kernelSize"`
	Repeat     int      `json:"repeat"`
}

func (s *BlurSettings) UnmarshalJSON(data []byte) error {
	type plain BlurSettings
	v := plain{KernelSize: 3, Repeat: 1}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = BlurSettings(v)
	return nil
}

func (s *BlurSettings) Check() error {
	if s.KernelSize < 3 || s.KernelSize%2 == 0 {
		return fmt.Errorf("blur kernel size must be odd and >= 3, got %d", s.KernelSize)
	}
	if s.Repeat < 1 {
		return fmt.Errorf("blur repeat must be >= 1")
	}
	return nil
}

func (s *BlurSettings) InOuts() enums.InOuts { return imageOnly }

// ImageSaverSettings writes the running image as control image. ROIs of
// ClassesIn are drawn on top in their class colour.
type ImageSaverSettings struct {
	NamePrefix string            `json:"namePrefix"`
	ClassesIn  []enums.ClassIdIn `json:"classesIn"`
}

func (s *ImageSaverSettings) Check() error {
	if strings.ContainsAny(s.NamePrefix, `/\`) {
		return fmt.Errorf("name prefix %q must not contain path separators", s.NamePrefix)
	}
	return nil
}

func (s *ImageSaverSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage, enums.IOBinary, enums.IOObject}, Out: enums.IOOutputEqualToInput}
}

func checkModelClasses(classes []detect.ObjectClass) error {
	if len(classes) == 0 {
		return fmt.Errorf("at least one model class is required")
	}
	seen := map[int]bool{}
	for i := range classes {
		if seen[classes[i].ModelClassId] {
			return fmt.Errorf("model class %d configured twice", classes[i].ModelClassId)
		}
		seen[classes[i].ModelClassId] = true
		if err := classes[i].Check(); err != nil {
			return err
		}
	}
	return nil
}
