package reporting

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"imagec/internal/enums"
	"imagec/internal/logger"
	"imagec/internal/settings"

	"github.com/sirupsen/logrus"
)

// Report collects the summaries of all images of a run. Add is safe for
// concurrent use.
type Report struct {
	settings *settings.AnalyzeSettings
	grouper  *Grouper

	mu     sync.Mutex
	images []ImageSummary
}

// NewReport creates an empty report.
func NewReport(s *settings.AnalyzeSettings) (*Report, error) {
	g, err := NewGrouper(s.Reporting.Heatmap)
	if err != nil {
		return nil, err
	}
	return &Report{settings: s, grouper: g}, nil
}

// Grouper returns the grouper used for the image rows.
func (r *Report) Grouper() *Grouper { return r.grouper }

// AddResult summarizes a finished image and adds it.
func (r *Report) AddResult(res *ImageResult) ImageSummary {
	sum := Summarize(res, r.grouper, r.settings)
	r.add(sum)
	return sum
}

// AddFailed adds an image that could not be processed.
func (r *Report) AddFailed(path string) {
	r.add(FailedSummary(path, r.grouper))
}

func (r *Report) add(sum ImageSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, sum)
}

// Images returns the image rows sorted by file name.
func (r *Report) Images() []ImageSummary {
	r.mu.Lock()
	out := append([]ImageSummary(nil), r.images...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// GroupSummary are the images of one group.
type GroupSummary struct {
	Name   string
	Info   GroupInfo
	Images []ImageSummary
}

// Value aggregates the image values of metric m: the sum for counts, the
// mean otherwise. Failed images are skipped.
func (g *GroupSummary) Value(class enums.ClassId, m Metric) float64 {
	var values []float64
	for _, img := range g.Images {
		if img.Failed {
			continue
		}
		v := img.Classes[class].Value(m)
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if m.Kind == MetricCount {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	}
	return Mean(values)
}

// Merged folds the statistics of metric m of class over the processed
// images of the group. It is nil when no image has the class.
func (g *GroupSummary) Merged(class enums.ClassId, m Metric) *Statistics {
	var out *Statistics
	for _, img := range g.Images {
		if img.Failed {
			continue
		}
		cs := img.Classes[class]
		if cs == nil {
			continue
		}
		s, ok := cs.Metrics[m]
		if !ok {
			continue
		}
		if out == nil {
			out = &Statistics{}
		}
		out.Merge(*s)
	}
	return out
}

// CellValue returns the heatmap value of the group: the merged sum, or the
// mean over the images when agg is AVG.
func (g *GroupSummary) CellValue(class enums.ClassId, m Metric, agg settings.Aggregation) float64 {
	if agg == settings.AggregationAvg {
		return g.Value(class, m)
	}
	return m.Cell(g.Merged(class, m), agg)
}

// Invalid sums the invalid ROIs of class over the images of the group.
func (g *GroupSummary) Invalid(class enums.ClassId) uint64 {
	if s := g.Merged(class, Metric{Kind: MetricCount}); s != nil {
		return s.Invalid
	}
	return 0
}

// Groups returns the groups sorted by name. The well position of a group
// is the one of its first image.
func (r *Report) Groups() []GroupSummary {
	byName := map[string]*GroupSummary{}
	var names []string
	for _, img := range r.Images() {
		g, ok := byName[img.Info.Group]
		if !ok {
			g = &GroupSummary{Name: img.Info.Group, Info: img.Info}
			byName[img.Info.Group] = g
			names = append(names, img.Info.Group)
		}
		g.Images = append(g.Images, img)
	}
	sort.Strings(names)
	out := make([]GroupSummary, 0, len(names))
	for _, n := range names {
		out = append(out, *byName[n])
	}
	return out
}

type column struct {
	class  enums.ClassId
	metric Metric
}

// columns returns the class columns over all images.
func (r *Report) columns(images []ImageSummary) ([]enums.ClassId, []column) {
	seen := map[enums.ClassId]bool{}
	var classes []enums.ClassId
	var chs []int32
	for _, img := range images {
		for c := range img.Classes {
			if !seen[c] {
				seen[c] = true
				classes = append(classes, c)
			}
		}
		chs = mergeChannels(chs, img.Channels)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	var cols []column
	for _, c := range classes {
		for _, m := range metricsFor(chs) {
			cols = append(cols, column{class: c, metric: m})
		}
	}
	return classes, cols
}

func (r *Report) header(first []string, classes []enums.ClassId, cols []column) []string {
	header := append([]string(nil), first...)
	for _, c := range classes {
		header = append(header, r.settings.ClassName(c)+" invalid")
	}
	for _, col := range cols {
		header = append(header, r.settings.ClassName(col.class)+" "+col.metric.Name(r.settings))
	}
	return header
}

// ImagesTable has one row per image.
func (r *Report) ImagesTable() *Table {
	images := r.Images()
	classes, cols := r.columns(images)
	t := &Table{Name: "Images", Header: r.header([]string{"image", "group", "well", "status"}, classes, cols)}
	for _, img := range images {
		status := "ok"
		if img.Failed {
			status = "failed"
		}
		row := []any{img.Name, img.Info.Group, img.Info.WellLabel, status}
		if img.Failed {
			// no measurement, not a zero count
			row = append(row, make([]any, len(classes)+len(cols))...)
			t.AddRow(row...)
			continue
		}
		for _, c := range classes {
			row = append(row, img.Classes[c].Invalid())
		}
		for _, col := range cols {
			row = append(row, img.Classes[col.class].Value(col.metric))
		}
		t.AddRow(row...)
	}
	return t
}

// GroupsTable has one row per group.
func (r *Report) GroupsTable() *Table {
	classes, cols := r.columns(r.Images())
	t := &Table{Name: "Groups", Header: r.header([]string{"group", "well", "images"}, classes, cols)}
	for _, g := range r.Groups() {
		row := []any{g.Name, g.Info.WellLabel, len(g.Images)}
		for _, c := range classes {
			row = append(row, g.Invalid(c))
		}
		for _, col := range cols {
			row = append(row, g.Value(col.class, col.metric))
		}
		t.AddRow(row...)
	}
	return t
}

// Write writes results.csv, results.xlsx and the enabled plate and well
// heatmaps into dir.
func (r *Report) Write(dir string) error {
	images := r.ImagesTable()
	if err := images.WriteCSV(filepath.Join(dir, "results.csv")); err != nil {
		return fmt.Errorf("write all-over report: %w", err)
	}
	if err := WriteXLSX(filepath.Join(dir, "results.xlsx"), images, r.GroupsTable()); err != nil {
		return fmt.Errorf("write all-over report: %w", err)
	}
	h := r.settings.Reporting.Heatmap
	if h.GenerateHeatmapForPlate {
		if err := r.WritePlateHeatmap(filepath.Join(dir, "heatmap_plate.xlsx")); err != nil {
			return err
		}
	}
	if h.GenerateHeatmapForWell {
		if err := r.WriteWellHeatmap(filepath.Join(dir, "heatmap_well.xlsx")); err != nil {
			return err
		}
	}
	logger.WithFields(logrus.Fields{
		"dir":    dir,
		"images": len(images.Rows),
	}).Info("report written")
	return nil
}
