package settings

import (
	"encoding/json"
	"fmt"

	"imagec/internal/enums"
)

// ReclassifyMode decides whether matching ROIs change class or are copied
// into the new class.
type ReclassifyMode int

const (
	ReclassifyMove ReclassifyMode = iota
	ReclassifyCopy
)

var reclassifyModeNames = []string{"RECLASSIFY_MOVE", "RECLASSIFY_COPY"}

func (m ReclassifyMode) MarshalText() ([]byte, error) {
	return []byte(nameOf(reclassifyModeNames, int(m))), nil
}

func (m *ReclassifyMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "MOVE":
		*m = ReclassifyMove
		return nil
	case "COPY":
		*m = ReclassifyCopy
		return nil
	}
	i, err := parseName("reclassify mode", reclassifyModeNames, text)
	*m = ReclassifyMode(i)
	return err
}

// ReclassifyIntensity keeps only ROIs whose mean intensity in ImageIn lies
// in [MinIntensity, MaxIntensity].
type ReclassifyIntensity struct {
	ImageIn      enums.ImageId `json:"imageIn"`
	MinIntensity uint16        `json:"minIntensity"`
	MaxIntensity uint16        `json:"maxIntensity"`
}

func (s *ReclassifyIntensity) UnmarshalJSON(data []byte) error {
	type plain ReclassifyIntensity
	v := plain{ImageIn: enums.CurrentImage(), MaxIntensity: 65535}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ReclassifyIntensity(v)
	return nil
}

// ReclassifySettings moves or copies ROIs of InputClasses to OutputClass.
// With IntersectWith set a ROI must overlap an object of those classes by at
// least MinIntersection; with Intensity set its mean intensity must be in
// range.
type ReclassifySettings struct {
	Mode            ReclassifyMode       `json:"mode"`
	InputClasses    []enums.ClassIdIn    `json:"inputClasses"`
	IntersectWith   []enums.ClassIdIn    `json:"inputClassesIntersectWith"`
	MinIntersection float64              `json:"minIntersection"`
	Intensity       *ReclassifyIntensity `json:"intensity,omitempty"`
	OutputClass     enums.ClassIdIn      `json:"newClassId"`
}

func (s *ReclassifySettings) UnmarshalJSON(data []byte) error {
	type plain ReclassifySettings
	v := plain{MinIntersection: 0.1, OutputClass: enums.ClassInNone}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ReclassifySettings(v)
	return nil
}

func (s *ReclassifySettings) Check() error {
	if len(s.InputClasses) == 0 {
		return fmt.Errorf("reclassify needs at least one input class")
	}
	if s.OutputClass == enums.ClassInNone {
		return fmt.Errorf("reclassify needs an output class")
	}
	if s.MinIntersection < 0 || s.MinIntersection > 1 {
		return fmt.Errorf("min intersection must be in [0,1], got %g", s.MinIntersection)
	}
	if s.Intensity != nil && s.Intensity.MaxIntensity < s.Intensity.MinIntensity {
		return fmt.Errorf("max intensity %d is smaller than min %d", s.Intensity.MaxIntensity, s.Intensity.MinIntensity)
	}
	return nil
}

func (s *ReclassifySettings) InOuts() enums.InOuts { return objects }

// ThresholdValidatorSettings flags the ROIs of InputClasses when the applied
// minimum threshold lies below the histogram peak of ImageIn multiplied by
// HistMinThresholdFilterFactor.
type ThresholdValidatorSettings struct {
	ImageIn                      enums.ImageId     `json:"imageIn"`
	InputClasses                 []enums.ClassIdIn `json:"inputClasses"`
	HistMinThresholdFilterFactor float64           `json:"histMinThresholdFilterFactor"`
}

func (s *ThresholdValidatorSettings) UnmarshalJSON(data []byte) error {
	type plain ThresholdValidatorSettings
	v := plain{ImageIn: enums.CurrentImage(), HistMinThresholdFilterFactor: 1.3}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ThresholdValidatorSettings(v)
	return nil
}

func (s *ThresholdValidatorSettings) Check() error {
	if len(s.InputClasses) == 0 {
		return fmt.Errorf("threshold validator needs at least one input class")
	}
	if s.HistMinThresholdFilterFactor < 0 {
		return fmt.Errorf("histogram filter factor must be >= 0, got %g", s.HistMinThresholdFilterFactor)
	}
	return nil
}

func (s *ThresholdValidatorSettings) InOuts() enums.InOuts { return objects }
