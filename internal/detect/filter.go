package detect

import (
	"encoding/json"
	"fmt"

	"imagec/internal/enums"
	img "imagec/internal/image"
	"imagec/internal/roi"
)

// ImageSource resolves class references and loads images for intensity
// filters. It is implemented by the processing context of a pipeline run.
type ImageSource interface {
	ClassId(in enums.ClassIdIn) enums.ClassId
	LoadImageFromCache(id enums.ImageId) (*img.Image16, error)
}

// IntensityFilter limits the mean intensity of a ROI in another image.
// A MaxIntensity of 0 means no upper limit.
type IntensityFilter struct {
	ImageIn      enums.ImageId `json:"imageIn"`
	MinIntensity uint16        `json:"minIntensity"`
	MaxIntensity uint16        `json:"maxIntensity"`
}

// Check validates the limits.
func (f *IntensityFilter) Check() error {
	if f.MaxIntensity > 0 && f.MaxIntensity < f.MinIntensity {
		return fmt.Errorf("max intensity %d is smaller than min intensity %d", f.MaxIntensity, f.MinIntensity)
	}
	return nil
}

// ClassifierFilter assigns OutputClass to ROIs that satisfy both the shape
// and the optional intensity limits.
type ClassifierFilter struct {
	OutputClass enums.ClassIdIn   `json:"outputClass"`
	Metrics     roi.MetricsFilter `json:"metrics"`
	Intensity   *IntensityFilter  `json:"intensity,omitempty"`
}

// Check validates the filter.
func (f *ClassifierFilter) Check() error {
	if err := f.Metrics.Check(); err != nil {
		return err
	}
	if f.Intensity != nil {
		return f.Intensity.Check()
	}
	return nil
}

// ObjectClass maps one model output (or one gray value of a binary image) to
// an ordered list of filters.
type ObjectClass struct {
	ModelClassId        int                `json:"modelClassId"`
	OutputClassNoMatch  enums.ClassIdIn    `json:"outputClassNoMatch"`
	Filters             []ClassifierFilter `json:"filters"`
	ProbabilityHandicap float32            `json:"probabilityHandicap"`
}

// UnmarshalJSON applies the defaults of optional fields.
func (o *ObjectClass) UnmarshalJSON(data []byte) error {
	type plain ObjectClass
	v := plain{OutputClassNoMatch: enums.ClassInNone, ProbabilityHandicap: 1}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = ObjectClass(v)
	return nil
}

// Check validates all filters.
func (o *ObjectClass) Check() error {
	if o.ProbabilityHandicap < 0 {
		return fmt.Errorf("object class %d: probability handicap must be >= 0", o.ModelClassId)
	}
	for i := range o.Filters {
		if err := o.Filters[i].Check(); err != nil {
			return fmt.Errorf("object class %d filter %d: %w", o.ModelClassId, i, err)
		}
	}
	return nil
}

// FindObjectClass returns the object class configured for a model class.
func FindObjectClass(classes []ObjectClass, modelClassId int) (*ObjectClass, bool) {
	for i := range classes {
		if classes[i].ModelClassId == modelClassId {
			return &classes[i], true
		}
	}
	return nil, false
}

// Matches reports whether the ROI satisfies the filter. The validity of the
// ROI is updated from the shape limits.
func (f *ClassifierFilter) Matches(src ImageSource, r *roi.ROI) (bool, error) {
	if !r.ApplyParticleFilter(f.Metrics).IsValid() {
		return false, nil
	}
	if f.Intensity == nil {
		return true, nil
	}
	image, err := src.LoadImageFromCache(f.Intensity.ImageIn)
	if err != nil {
		return false, fmt.Errorf("intensity filter image %s: %w", f.Intensity.ImageIn, err)
	}
	probe := r.Clone()
	avg := probe.MeasureIntensityAndAdd(0, image).Avg
	if avg < float64(f.Intensity.MinIntensity) {
		return false, nil
	}
	if f.Intensity.MaxIntensity > 0 && avg > float64(f.Intensity.MaxIntensity) {
		return false, nil
	}
	return true, nil
}

// Classify evaluates the filters in order and assigns the class of the first
// match. Without a match the ROI gets OutputClassNoMatch. It returns false if
// the resulting class is NONE and the ROI must be dropped.
func (o *ObjectClass) Classify(src ImageSource, r *roi.ROI) (bool, error) {
	handicap := o.ProbabilityHandicap
	if handicap == 0 {
		handicap = 1
	}
	confidence := r.Confidence * handicap

	for i := range o.Filters {
		ok, err := o.Filters[i].Matches(src, r)
		if err != nil {
			return false, err
		}
		if ok {
			class := src.ClassId(o.Filters[i].OutputClass)
			r.ChangeClass(class, confidence)
			return class != enums.ClassNone, nil
		}
	}
	// Without filters there is nothing to reject. Otherwise the ROI keeps the
	// validity of the last evaluated filter.
	if len(o.Filters) == 0 {
		r.Validity = roi.Valid
	}
	class := src.ClassId(o.OutputClassNoMatch)
	r.ChangeClass(class, confidence)
	return class != enums.ClassNone, nil
}

// ClassifyList classifies every ROI of list with the object class of
// modelClassId and hands the kept ones to push. Lists of model classes
// without configuration are ignored.
func ClassifyList(src ImageSource, classes []ObjectClass, modelClassId int, list *roi.ObjectList, push func(*roi.ROI)) error {
	oc, ok := FindObjectClass(classes, modelClassId)
	if !ok {
		return nil
	}
	for _, r := range list.Rois() {
		keep, err := oc.Classify(src, r)
		if err != nil {
			return err
		}
		if keep {
			push(r)
		}
	}
	return nil
}
