package settings

import (
	"fmt"
	"regexp"
	"strings"
)

// GroupBy selects how images are grouped in the all-over report.
type GroupBy int

const (
	GroupByOff GroupBy = iota
	GroupByFolder
	GroupByFilename
)

func (g GroupBy) String() string {
	switch g {
	case GroupByFolder:
		return "FOLDER"
	case GroupByFilename:
		return "FILENAME_REGEX"
	}
	return "NONE"
}

func (g GroupBy) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GroupBy) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "NONE", "OFF":
		*g = GroupByOff
	case "FOLDER":
		*g = GroupByFolder
	case "FILENAME_REGEX", "FILENAME":
		*g = GroupByFilename
	default:
		return fmt.Errorf("unknown group by %q", string(text))
	}
	return nil
}

// Aggregation selects how the values of a heatmap cell are combined.
type Aggregation int

const (
	AggregationSum Aggregation = iota
	AggregationAvg
)

func (a Aggregation) String() string {
	if a == AggregationAvg {
		return "AVG"
	}
	return "SUM"
}

func (a Aggregation) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Aggregation) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "SUM":
		*a = AggregationSum
	case "AVG", "MEAN":
		*a = AggregationAvg
	default:
		return fmt.Errorf("unknown aggregation %q", string(text))
	}
	return nil
}

// DefaultImageFilenameRegex matches names like plate_A01_1.tif.
const DefaultImageFilenameRegex = `_((.)([0-9]+))_([0-9]+)`

// HeatmapSettings configures grouping and the heatmap outputs.
type HeatmapSettings struct {
	GroupBy                 GroupBy `json:"groupBy"`
	ImageFilenameRegex      string  `json:"imageFilenameRegex"`
	GenerateHeatmapForPlate bool    `json:"generateHeatmapForPlate"`
	GenerateHeatmapForWell  bool    `json:"generateHeatmapForWell"`
	GenerateHeatmapForImage bool    `json:"generateHeatmapForImage"`
	ImageHeatmapAreaWidth   []int   `json:"imageHeatmapAreaWidth"`
	WellImageOrder          [][]int `json:"wellImageOrder"`
	// Aggregation of the cell values, the sum unless set
	Aggregation Aggregation `json:"aggregation"`
}

// ReportingSettings groups the report options.
type ReportingSettings struct {
	Heatmap HeatmapSettings `json:"heatmap"`
}

// DefaultReportingSettings returns the settings used when the document has
// no reporting section.
func DefaultReportingSettings() ReportingSettings {
	return ReportingSettings{Heatmap: HeatmapSettings{
		ImageFilenameRegex:    DefaultImageFilenameRegex,
		ImageHeatmapAreaWidth: []int{1000},
		WellImageOrder:        [][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
	}}
}

// Check validates the regex and the layouts.
func (s *ReportingSettings) Check() error {
	h := &s.Heatmap
	needsRegex := h.GroupBy == GroupByFilename || h.GenerateHeatmapForPlate || h.GenerateHeatmapForWell
	if needsRegex {
		re, err := regexp.Compile(h.ImageFilenameRegex)
		if err != nil {
			return fmt.Errorf("invalid image filename regex: %w", err)
		}
		if re.NumSubexp() < 3 {
			return fmt.Errorf("image filename regex needs 3 groups (well, row, column), has %d", re.NumSubexp())
		}
	}
	if h.GenerateHeatmapForImage {
		if len(h.ImageHeatmapAreaWidth) == 0 {
			return fmt.Errorf("image heatmap needs at least one area width")
		}
		for _, w := range h.ImageHeatmapAreaWidth {
			if w < 1 {
				return fmt.Errorf("image heatmap area width must be >= 1, got %d", w)
			}
		}
	}
	if h.GenerateHeatmapForWell {
		if re := regexp.MustCompile(h.ImageFilenameRegex); re.NumSubexp() < 4 {
			return fmt.Errorf("well heatmap needs an image index group in the filename regex")
		}
		seen := map[int]bool{}
		for _, row := range h.WellImageOrder {
			for _, idx := range row {
				if idx <= 0 {
					continue
				}
				if seen[idx] {
					return fmt.Errorf("image %d appears twice in the well image order", idx)
				}
				seen[idx] = true
			}
		}
		if len(seen) == 0 {
			return fmt.Errorf("well image order is empty")
		}
	}
	return nil
}
