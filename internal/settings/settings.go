// Package settings holds the analysis document: which pipelines run over
// which channels, the commands of every pipeline and the report options.
// Every type has a Check method that must pass before a run starts.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"imagec/internal/apperr"
	"imagec/internal/enums"
)

// ChannelSettings names a channel of the images for the reports.
type ChannelSettings struct {
	Index int32  `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
}

// Class is a user defined object class.
type Class struct {
	ClassId enums.ClassId `json:"classId"`
	Name    string        `json:"name"`
	Color   string        `json:"color,omitempty"`
}

// Options are run wide switches.
type Options struct {
	PixelInMicrometer  float64 `json:"pixelInMicrometer"`
	WithControlImages  bool    `json:"withControlImages"`
	WithDetailedReport bool    `json:"withDetailedReport"`
}

// AnalyzeSettings is the root of the analysis document.
type AnalyzeSettings struct {
	Channels  []ChannelSettings `json:"channels"`
	Classes   []Class           `json:"classes"`
	Pipelines []Pipeline        `json:"pipelines"`
	Options   Options           `json:"options"`
	Reporting ReportingSettings `json:"reporting"`
}

// UnmarshalJSON applies the defaults of optional fields.
func (s *AnalyzeSettings) UnmarshalJSON(data []byte) error {
	type plain AnalyzeSettings
	v := plain{
		Options:   Options{PixelInMicrometer: 1, WithDetailedReport: true},
		Reporting: DefaultReportingSettings(),
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = AnalyzeSettings(v)
	return nil
}

// Check validates the whole document. Errors are configuration errors.
func (s *AnalyzeSettings) Check() error {
	if err := s.check(); err != nil {
		return apperr.NewConfigurationError("invalid analysis settings", err)
	}
	return nil
}

func (s *AnalyzeSettings) check() error {
	if len(s.Pipelines) == 0 {
		return fmt.Errorf("no pipeline configured")
	}
	if s.Options.PixelInMicrometer <= 0 {
		return fmt.Errorf("pixelInMicrometer must be > 0")
	}
	classes := map[enums.ClassId]bool{}
	for _, c := range s.Classes {
		if !c.ClassId.IsUserClass() {
			return fmt.Errorf("class %s is outside the user range", c.ClassId)
		}
		if classes[c.ClassId] {
			return fmt.Errorf("class %s defined twice", c.ClassId)
		}
		classes[c.ClassId] = true
	}
	for i := range s.Pipelines {
		if err := s.Pipelines[i].Check(); err != nil {
			return err
		}
	}
	return s.Reporting.Check()
}

// ActivePipelines returns the pipelines that are not disabled.
func (s *AnalyzeSettings) ActivePipelines() []*Pipeline {
	var out []*Pipeline
	for i := range s.Pipelines {
		if !s.Pipelines[i].Disabled {
			out = append(out, &s.Pipelines[i])
		}
	}
	return out
}

// ChannelName returns the configured name of channel c.
func (s *AnalyzeSettings) ChannelName(c int32) string {
	for _, ch := range s.Channels {
		if ch.Index == c && ch.Name != "" {
			return ch.Name
		}
	}
	return fmt.Sprintf("CH%d", c)
}

// ClassName returns the configured name of class c.
func (s *AnalyzeSettings) ClassName(c enums.ClassId) string {
	for _, cl := range s.Classes {
		if cl.ClassId == c && cl.Name != "" {
			return cl.Name
		}
	}
	return c.String()
}

// Parse decodes a settings document. Unknown fields are ignored.
func Parse(data []byte) (*AnalyzeSettings, error) {
	var s AnalyzeSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperr.NewConfigurationError("cannot parse analysis settings", err)
	}
	return &s, nil
}

// Load reads and checks a settings document.
func Load(path string) (*AnalyzeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewConfigurationError(fmt.Sprintf("cannot read %s", path), err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the document as indented JSON.
func (s *AnalyzeSettings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
