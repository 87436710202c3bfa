package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"imagec/internal/enums"
)

// parseName returns the position of text in names, ignoring case.
func parseName(kind string, names []string, text []byte) (int, error) {
	for i, name := range names {
		if strings.EqualFold(name, string(text)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, string(text))
}

func nameOf(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "UNKNOWN"
	}
	return names[i]
}

// MorphFunction is the operation of a morphological transform.
type MorphFunction int

const (
	MorphErode MorphFunction = iota
	MorphDilate
	MorphOpen
	MorphClose
	MorphGradient
	MorphTophat
	MorphBlackhat
	MorphHitmiss
)

var morphFunctionNames = []string{"ERODE", "DILATE", "OPEN", "CLOSE", "GRADIENT", "TOPHAT", "BLACKHAT", "HITMISS"}

func (f MorphFunction) String() string { return nameOf(morphFunctionNames, int(f)) }

func (f MorphFunction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *MorphFunction) UnmarshalText(text []byte) error {
	i, err := parseName("morphological function", morphFunctionNames, text)
	*f = MorphFunction(i)
	return err
}

// KernelShape is the structuring element of a morphological transform.
type KernelShape int

const (
	ShapeEllipse KernelShape = iota
	ShapeRectangle
	ShapeCross
)

var kernelShapeNames = []string{"ELLIPSE", "RECTANGLE", "CROSS"}

func (s KernelShape) String() string { return nameOf(kernelShapeNames, int(s)) }

func (s KernelShape) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *KernelShape) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = ShapeEllipse
		return nil
	}
	i, err := parseName("kernel shape", kernelShapeNames, text)
	*s = KernelShape(i)
	return err
}

// MorphologicalTransformSettings applies one morphological operation.
type MorphologicalTransformSettings struct {
	Function   MorphFunction `json:"function"`
	Shape      KernelShape   `json:"shape"`
	KernelSize int           `json:"kernelSize"`
}

func (s *MorphologicalTransformSettings) Check() error {
	if s.Function < MorphErode || s.Function > MorphHitmiss {
		return fmt.Errorf("invalid morphological function %d", s.Function)
	}
	if s.KernelSize < 3 || s.KernelSize%2 == 0 {
		return fmt.Errorf("morphological kernel size must be odd and >= 3, got %d", s.KernelSize)
	}
	return nil
}

func (s *MorphologicalTransformSettings) InOuts() enums.InOuts { return passImages }

// SobelWeight combines the x and y gradients.
type SobelWeight int

const (
	SobelAbs SobelWeight = iota
	SobelMagnitude
)

var sobelWeightNames = []string{"ABS", "MAGNITUDE"}

func (w SobelWeight) MarshalText() ([]byte, error) { return []byte(nameOf(sobelWeightNames, int(w))), nil }

func (w *SobelWeight) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*w = SobelMagnitude
		return nil
	}
	i, err := parseName("sobel weight function", sobelWeightNames, text)
	*w = SobelWeight(i)
	return err
}

// EdgeDetectionSettings runs a Sobel operator.
type EdgeDetectionSettings struct {
	DerivativeOrderX int         `json:"derivativeOrderX"`
	DerivativeOrderY int         `json:"derivativeOrderY"`
	KernelSize       int         `json:"kernelSize"`
	WeightFunction   SobelWeight `json:"weightFunction"`
}

func (s *EdgeDetectionSettings) UnmarshalJSON(data []byte) error {
	type plain EdgeDetectionSettings
	v := plain{DerivativeOrderX: 1, DerivativeOrderY: 1, KernelSize: 3, WeightFunction: SobelMagnitude}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = EdgeDetectionSettings(v)
	return nil
}

func (s *EdgeDetectionSettings) Check() error {
	switch s.KernelSize {
	case 1, 3, 5, 7:
	default:
		return fmt.Errorf("sobel kernel size must be 1, 3, 5 or 7, got %d", s.KernelSize)
	}
	for _, o := range []int{s.DerivativeOrderX, s.DerivativeOrderY} {
		if o < 0 || o > 2 {
			return fmt.Errorf("derivative order must be in [0,2], got %d", o)
		}
	}
	if s.DerivativeOrderX+s.DerivativeOrderY == 0 {
		return fmt.Errorf("sobel needs a derivative in x or y")
	}
	return nil
}

func (s *EdgeDetectionSettings) InOuts() enums.InOuts { return imageOnly }

// RankFunction is the statistic a rank filter computes over its disk.
type RankFunction int

const (
	RankMean RankFunction = iota
	RankMin
	RankMax
	RankVariance
	RankMedian
)

var rankFunctionNames = []string{"MEAN", "MIN", "MAX", "VARIANCE", "MEDIAN"}

func (f RankFunction) String() string { return nameOf(rankFunctionNames, int(f)) }

func (f RankFunction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *RankFunction) UnmarshalText(text []byte) error {
	i, err := parseName("rank function", rankFunctionNames, text)
	*f = RankFunction(i)
	return err
}

// RankFilterSettings replaces every pixel by a statistic of the circular
// neighbourhood of the given radius.
type RankFilterSettings struct {
	Function RankFunction `json:"function"`
	Radius   float64      `json:"radius"`
}

func (s *RankFilterSettings) Check() error {
	if s.Function < RankMean || s.Function > RankMedian {
		return fmt.Errorf("invalid rank function %d", s.Function)
	}
	if s.Radius < 0.5 || s.Radius > 100 {
		return fmt.Errorf("rank filter radius must be in [0.5,100], got %g", s.Radius)
	}
	return nil
}

func (s *RankFilterSettings) InOuts() enums.InOuts { return imageOnly }

// EnhanceContrastSettings stretches or equalizes the histogram.
// SaturatedPixels is the percentage of pixels allowed to saturate, split
// evenly between both ends.
type EnhanceContrastSettings struct {
	SaturatedPixels   float64 `json:"saturatedPixels"`
	Normalize         bool    `json:"normalize"`
	EqualizeHistogram bool    `json:"equalizeHistogram"`
}

func (s *EnhanceContrastSettings) UnmarshalJSON(data []byte) error {
	type plain EnhanceContrastSettings
	v := plain{SaturatedPixels: 0.35, Normalize: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = EnhanceContrastSettings(v)
	return nil
}

func (s *EnhanceContrastSettings) Check() error {
	if s.SaturatedPixels < 0 || s.SaturatedPixels >= 100 {
		return fmt.Errorf("saturated pixels must be in [0,100), got %g", s.SaturatedPixels)
	}
	return nil
}

func (s *EnhanceContrastSettings) InOuts() enums.InOuts { return imageOnly }

// AdaptiveMethod is a local thresholding rule.
type AdaptiveMethod int

const (
	AdaptiveBernsen AdaptiveMethod = iota
	AdaptiveContrast
	AdaptiveMean
	AdaptiveMedian
)

var adaptiveMethodNames = []string{"BERNSEN", "CONTRAST", "MEAN", "MEDIAN"}

func (m AdaptiveMethod) String() string { return nameOf(adaptiveMethodNames, int(m)) }

func (m AdaptiveMethod) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *AdaptiveMethod) UnmarshalText(text []byte) error {
	i, err := parseName("adaptive threshold method", adaptiveMethodNames, text)
	*m = AdaptiveMethod(i)
	return err
}

// AdaptiveThreshold is one local binarisation. Object pixels get
// ModelClassId as gray value.
type AdaptiveThreshold struct {
	Method            AdaptiveMethod `json:"method"`
	Radius            int            `json:"radius"`
	ContrastThreshold int            `json:"contrastThreshold"`
	ThresholdOffset   int            `json:"thresholdOffset"`
	ModelClassId      uint16         `json:"modelClassId"`
}

func (t *AdaptiveThreshold) UnmarshalJSON(data []byte) error {
	type plain AdaptiveThreshold
	v := plain{Radius: 15, ContrastThreshold: 15, ModelClassId: 65535}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = AdaptiveThreshold(v)
	return nil
}

// ThresholdAdaptiveSettings binarises the image with local thresholds. Later
// levels overwrite earlier ones.
type ThresholdAdaptiveSettings struct {
	Thresholds []AdaptiveThreshold `json:"modelClasses"`
}

func (s *ThresholdAdaptiveSettings) Check() error {
	if len(s.Thresholds) == 0 {
		return fmt.Errorf("adaptive threshold step needs at least one threshold")
	}
	for i, t := range s.Thresholds {
		if t.Method < AdaptiveBernsen || t.Method > AdaptiveMedian {
			return fmt.Errorf("adaptive threshold %d: invalid method %d", i, t.Method)
		}
		if t.Radius < 1 {
			return fmt.Errorf("adaptive threshold %d: radius must be >= 1, got %d", i, t.Radius)
		}
		if t.ModelClassId == 0 {
			return fmt.Errorf("adaptive threshold %d: gray value 0 is background", i)
		}
	}
	return nil
}

func (s *ThresholdAdaptiveSettings) InOuts() enums.InOuts {
	return enums.InOuts{In: []enums.InOut{enums.IOImage}, Out: enums.IOBinary}
}
