package settings

import (
	"fmt"

	"imagec/internal/enums"
)

// PipelineMeta describes a pipeline for humans.
type PipelineMeta struct {
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

// PipelineSetup selects the planes a pipeline iterates over.
type PipelineSetup struct {
	CStackIndex    int32               `json:"cStackIndex"`
	DefaultClassId enums.ClassId       `json:"defaultClassId"`
	ZStackHandling enums.StackHandling `json:"zStackHandling"`
	ZStackIndex    int32               `json:"zStackIndex"`
	ZProjection    enums.ZProjection   `json:"zProjection"`
	TStackHandling enums.StackHandling `json:"tStackHandling"`
	TStackIndex    int32               `json:"tStackIndex"`
}

// Check validates the setup.
func (s *PipelineSetup) Check() error {
	if s.CStackIndex < 0 {
		return fmt.Errorf("channel index must be >= 0, got %d", s.CStackIndex)
	}
	if !s.DefaultClassId.IsUserClass() {
		return fmt.Errorf("default class %s is not a user class", s.DefaultClassId)
	}
	if s.TStackHandling == enums.StackIntensityProjection {
		return fmt.Errorf("intensity projection is not supported for the T axis")
	}
	if s.ZStackIndex < 0 || s.TStackIndex < 0 {
		return fmt.Errorf("stack indexes must be >= 0")
	}
	if s.ZStackHandling == enums.StackIntensityProjection {
		switch s.ZProjection {
		case enums.ZProjectionMax, enums.ZProjectionMin, enums.ZProjectionAvg, enums.ZProjectionTakeMiddle:
		default:
			return fmt.Errorf("z intensity projection needs a projection mode, got %s", s.ZProjection)
		}
	}
	return nil
}

// Pipeline is one sequence of steps run over one channel of every image.
type Pipeline struct {
	Meta          PipelineMeta   `json:"meta"`
	Disabled      bool           `json:"disabled"`
	PipelineSetup PipelineSetup  `json:"pipelineSetup"`
	PipelineSteps []PipelineStep `json:"pipelineSteps"`
}

// Check validates the setup, every step and the chaining of step inputs and
// outputs. The first step receives the loaded image.
func (p *Pipeline) Check() error {
	if err := p.PipelineSetup.Check(); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Meta.Name, err)
	}
	prev := enums.IOImage
	for i := range p.PipelineSteps {
		step := &p.PipelineSteps[i]
		if err := step.Check(); err != nil {
			return fmt.Errorf("pipeline %q step %d (%s): %w", p.Meta.Name, i, step.Name(), err)
		}
		if step.Disabled {
			continue
		}
		io := step.InOuts()
		if !io.Accepts(prev) {
			return fmt.Errorf("pipeline %q step %d (%s) does not accept %s", p.Meta.Name, i, step.Name(), prev)
		}
		prev = io.ResolveOut(prev)
	}
	return nil
}

// OutputClasses returns every class the steps of the pipeline can write.
// Scratch slots and placeholders are skipped.
func (p *Pipeline) OutputClasses() []enums.ClassIdIn {
	seen := map[enums.ClassIdIn]bool{}
	var out []enums.ClassIdIn
	add := func(c enums.ClassIdIn) {
		if c.IsTemp() || c == enums.ClassInNone || c == enums.ClassInUndefined || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for i := range p.PipelineSteps {
		s := &p.PipelineSteps[i]
		if s.Disabled {
			continue
		}
		switch {
		case s.Classify != nil:
			for _, oc := range s.Classify.ModelClasses {
				add(oc.OutputClassNoMatch)
				for _, f := range oc.Filters {
					add(f.OutputClass)
				}
			}
		case s.HoughTransform != nil:
			for _, oc := range s.HoughTransform.ModelClasses {
				add(oc.OutputClassNoMatch)
				for _, f := range oc.Filters {
					add(f.OutputClass)
				}
			}
		case s.AiClassify != nil:
			for _, oc := range s.AiClassify.ModelClasses {
				add(oc.OutputClassNoMatch)
				for _, f := range oc.Filters {
					add(f.OutputClass)
				}
			}
		case s.Intersection != nil:
			add(s.Intersection.OutputClass)
		case s.Reclassify != nil:
			add(s.Reclassify.OutputClass)
		}
	}
	return out
}
