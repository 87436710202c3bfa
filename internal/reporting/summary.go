package reporting

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"imagec/internal/enums"
	"imagec/internal/roi"
	"imagec/internal/settings"
)

// MetricKind is the ROI property a report column aggregates.
type MetricKind int

const (
	MetricCount MetricKind = iota
	MetricConfidence
	MetricArea
	MetricPerimeter
	MetricCircularity
	MetricIntensity
)

// Metric is one report column of a class. Channel is only used by
// MetricIntensity.
type Metric struct {
	Kind    MetricKind
	Channel int32
}

// Name returns the column title.
func (m Metric) Name(s *settings.AnalyzeSettings) string {
	switch m.Kind {
	case MetricCount:
		return "valid"
	case MetricConfidence:
		return "confidence"
	case MetricArea:
		return "area"
	case MetricPerimeter:
		return "perimeter"
	case MetricCircularity:
		return "circularity"
	case MetricIntensity:
		return s.ChannelName(m.Channel) + " intensity"
	}
	return fmt.Sprintf("metric %d", m.Kind)
}

// value returns the contribution of r. Area and perimeter are scaled by px.
func (m Metric) value(r *roi.ROI, px float64) (float64, bool) {
	switch m.Kind {
	case MetricCount:
		return 1, true
	case MetricConfidence:
		return float64(r.Confidence), true
	case MetricArea:
		return float64(r.AreaSize()) * px * px, true
	case MetricPerimeter:
		return r.Perimeter() * px, true
	case MetricCircularity:
		return r.Circularity(), true
	case MetricIntensity:
		v, ok := r.Intensity(m.Channel)
		return v.Avg, ok
	}
	return 0, false
}

// Of returns the value of the metric for an aggregated statistic: the
// number of values for counts, the mean otherwise.
func (m Metric) Of(s *Statistics) float64 {
	if s == nil {
		if m.Kind == MetricCount {
			return 0
		}
		return math.NaN()
	}
	if m.Kind == MetricCount {
		return float64(s.Nr)
	}
	if s.Nr == 0 {
		return math.NaN()
	}
	return s.Mean
}

// Cell returns the heatmap value of a statistic. Counts are always the
// number of values.
func (m Metric) Cell(s *Statistics, agg settings.Aggregation) float64 {
	if agg == settings.AggregationAvg || m.Kind == MetricCount {
		return m.Of(s)
	}
	if s == nil || s.Nr == 0 {
		return math.NaN()
	}
	return s.Sum
}

// ClassSummary aggregates the ROIs of one class in one image. Invalid ROIs
// are only counted in the statistics.
type ClassSummary struct {
	Metrics map[Metric]*Statistics
}

// Invalid returns the number of ROIs that did not pass the filters.
func (c *ClassSummary) Invalid() uint64 {
	if c == nil {
		return 0
	}
	if s, ok := c.Metrics[Metric{Kind: MetricCount}]; ok {
		return s.Invalid
	}
	return 0
}

func (c *ClassSummary) stat(m Metric) *Statistics {
	s, ok := c.Metrics[m]
	if !ok {
		s = &Statistics{}
		c.Metrics[m] = s
	}
	return s
}

// Value returns the image value of metric m.
func (c *ClassSummary) Value(m Metric) float64 {
	if c == nil {
		return m.Of(nil)
	}
	return m.Of(c.Metrics[m])
}

// CellValue returns the heatmap value of metric m.
func (c *ClassSummary) CellValue(m Metric, agg settings.Aggregation) float64 {
	if c == nil {
		return m.Cell(nil, agg)
	}
	return m.Cell(c.Metrics[m], agg)
}

// ImageSummary is the row of one image in the all-over report.
type ImageSummary struct {
	Path     string
	Name     string
	Info     GroupInfo
	Failed   bool
	Classes  map[enums.ClassId]*ClassSummary
	Channels []int32
}

// metricsFor returns the columns of a class with the given channels.
func metricsFor(chs []int32) []Metric {
	out := []Metric{
		{Kind: MetricCount}, {Kind: MetricConfidence}, {Kind: MetricArea},
		{Kind: MetricPerimeter}, {Kind: MetricCircularity},
	}
	for _, c := range chs {
		out = append(out, Metric{Kind: MetricIntensity, Channel: c})
	}
	return out
}

// Summarize aggregates the ROIs of res per class.
func Summarize(res *ImageResult, g *Grouper, s *settings.AnalyzeSettings) ImageSummary {
	sum := ImageSummary{
		Path:    res.Path,
		Name:    res.Name(),
		Info:    g.Group(res.Path),
		Classes: map[enums.ClassId]*ClassSummary{},
	}
	px := s.Options.PixelInMicrometer
	for _, class := range res.Objects.Classes() {
		rois := res.Objects[class].Rois()
		chs := channels(rois)
		sum.Channels = mergeChannels(sum.Channels, chs)
		cs := &ClassSummary{Metrics: map[Metric]*Statistics{}}
		metrics := metricsFor(chs)
		for _, m := range metrics {
			cs.stat(m)
		}
		for _, r := range rois {
			if !r.Validity.IsValid() {
				for _, m := range metrics {
					cs.stat(m).AddInvalid()
				}
				continue
			}
			for _, m := range metrics {
				if v, ok := m.value(r, px); ok {
					cs.stat(m).Add(v)
				}
			}
		}
		sum.Classes[class] = cs
	}
	return sum
}

// FailedSummary is the row of an image that could not be processed.
func FailedSummary(path string, g *Grouper) ImageSummary {
	return ImageSummary{
		Path:    path,
		Name:    filepath.Base(path),
		Info:    g.Group(path),
		Failed:  true,
		Classes: map[enums.ClassId]*ClassSummary{},
	}
}

func mergeChannels(a, b []int32) []int32 {
	seen := map[int32]bool{}
	var out []int32
	for _, list := range [][]int32{a, b} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
