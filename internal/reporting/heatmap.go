package reporting

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"imagec/internal/enums"
	"imagec/internal/settings"

	"github.com/xuri/excelize/v2"
)

// Plate dimensions of the plate heatmap (384 well layout).
const (
	PlateRows = 16
	PlateCols = 24
)

// Heatmap is a matrix of values with row and column labels. Empty cells
// are NaN.
type Heatmap struct {
	Title     string
	RowLabels []string
	ColLabels []string
	Values    [][]float64
}

func newHeatmap(title string, rows, cols int) *Heatmap {
	h := &Heatmap{Title: title, Values: make([][]float64, rows)}
	for r := range h.Values {
		h.Values[r] = make([]float64, cols)
		for c := range h.Values[r] {
			h.Values[r][c] = math.NaN()
		}
	}
	return h
}

// Filled returns the non empty cell values.
func (h *Heatmap) Filled() []float64 {
	var out []float64
	for _, row := range h.Values {
		for _, v := range row {
			if !math.IsNaN(v) {
				out = append(out, v)
			}
		}
	}
	return out
}

func letters(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('A' + i))
	}
	return out
}

func numbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprint(i + 1)
	}
	return out
}

// wells groups the images by plate position, sorted by row then column.
// Images without a position are left out.
func (r *Report) wells() []GroupSummary {
	type pos struct{ row, col int }
	byPos := map[pos]*GroupSummary{}
	var keys []pos
	for _, img := range r.Images() {
		if !img.Info.OnPlate() {
			continue
		}
		k := pos{img.Info.Row, img.Info.Col}
		g, ok := byPos[k]
		if !ok {
			g = &GroupSummary{Name: img.Info.WellLabel, Info: img.Info}
			byPos[k] = g
			keys = append(keys, k)
		}
		g.Images = append(g.Images, img)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].row != keys[j].row {
			return keys[i].row < keys[j].row
		}
		return keys[i].col < keys[j].col
	})
	out := make([]GroupSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byPos[k])
	}
	return out
}

// PlateHeatmap places the well values of metric m of class on a 16x24
// plate. A well holds the sum over its images unless the aggregation is AVG.
// Wells outside the plate are ignored.
func (r *Report) PlateHeatmap(class enums.ClassId, m Metric) *Heatmap {
	h := newHeatmap(r.settings.ClassName(class)+" "+m.Name(r.settings), PlateRows, PlateCols)
	h.RowLabels = letters(PlateRows)
	h.ColLabels = numbers(PlateCols)
	agg := r.settings.Reporting.Heatmap.Aggregation
	for _, w := range r.wells() {
		if w.Info.Row > PlateRows || w.Info.Col > PlateCols {
			continue
		}
		h.Values[w.Info.Row-1][w.Info.Col-1] = w.CellValue(class, m, agg)
	}
	return h
}

// WellHeatmaps returns one heatmap per well. The images are placed at the
// position of their image index in the well image order.
func (r *Report) WellHeatmaps(class enums.ClassId, m Metric) []*Heatmap {
	order := r.settings.Reporting.Heatmap.WellImageOrder
	agg := r.settings.Reporting.Heatmap.Aggregation
	cols := 0
	for _, row := range order {
		cols = max(cols, len(row))
	}
	var out []*Heatmap
	for _, w := range r.wells() {
		h := newHeatmap(w.Name, len(order), cols)
		h.RowLabels = numbers(len(order))
		h.ColLabels = numbers(cols)
		byIdx := map[int]ImageSummary{}
		for _, img := range w.Images {
			byIdx[img.Info.ImageIdx] = img
		}
		for y, row := range order {
			for x, idx := range row {
				if img, ok := byIdx[idx]; ok && !img.Failed {
					h.Values[y][x] = img.Classes[class].CellValue(m, agg)
				}
			}
		}
		out = append(out, h)
	}
	return out
}

// ImageHeatmap divides the image into squares of width pixels. A cell holds
// the aggregated metric over the valid ROIs whose center of mass lies in
// the square.
func ImageHeatmap(res *ImageResult, class enums.ClassId, width int, m Metric, s *settings.AnalyzeSettings) *Heatmap {
	if width < 1 || res.Size.Width <= 0 || res.Size.Height <= 0 {
		return newHeatmap("", 0, 0)
	}
	rows := (res.Size.Height + width - 1) / width
	cols := (res.Size.Width + width - 1) / width
	cells := make([][]*Statistics, rows)
	for y := range cells {
		cells[y] = make([]*Statistics, cols)
	}
	if list, ok := res.Objects[class]; ok {
		for _, obj := range list.Rois() {
			if !obj.Validity.IsValid() {
				continue
			}
			v, ok := m.value(obj, s.Options.PixelInMicrometer)
			if !ok {
				continue
			}
			com := obj.CenterOfMass()
			x := min(max(int(com.X)/width, 0), cols-1)
			y := min(max(int(com.Y)/width, 0), rows-1)
			if cells[y][x] == nil {
				cells[y][x] = &Statistics{}
			}
			cells[y][x].Add(v)
		}
	}
	h := newHeatmap(fmt.Sprintf("%s %dpx %s", s.ClassName(class), width, m.Name(s)), rows, cols)
	h.RowLabels = numbers(rows)
	h.ColLabels = numbers(cols)
	for y := range cells {
		for x := range cells[y] {
			h.Values[y][x] = m.Cell(cells[y][x], s.Reporting.Heatmap.Aggregation)
		}
	}
	return h
}

// writeHeatmap writes h with its labels at row top and colours the values
// with a three colour scale. It returns the first free row below.
func writeHeatmap(f *excelize.File, sheet string, top int, h *Heatmap) (int, error) {
	title, _ := excelize.CoordinatesToCellName(1, top)
	if err := f.SetCellValue(sheet, title, h.Title); err != nil {
		return 0, err
	}
	for c, label := range h.ColLabels {
		cell, _ := excelize.CoordinatesToCellName(c+2, top)
		if err := f.SetCellValue(sheet, cell, label); err != nil {
			return 0, err
		}
	}
	for r, row := range h.Values {
		cell, _ := excelize.CoordinatesToCellName(1, top+r+1)
		if r < len(h.RowLabels) {
			if err := f.SetCellValue(sheet, cell, h.RowLabels[r]); err != nil {
				return 0, err
			}
		}
		for c, v := range row {
			if math.IsNaN(v) {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+2, top+r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return 0, err
			}
		}
	}
	if len(h.Values) > 0 && len(h.Values[0]) > 0 {
		from, _ := excelize.CoordinatesToCellName(2, top+1)
		to, _ := excelize.CoordinatesToCellName(len(h.Values[0])+1, top+len(h.Values))
		err := f.SetConditionalFormat(sheet, from+":"+to, []excelize.ConditionalFormatOptions{{
			Type:     "3_color_scale",
			Criteria: "=",
			MinType:  "min",
			MidType:  "percentile",
			MidValue: "50",
			MaxType:  "max",
			MinColor: "#63BE7B",
			MidColor: "#FFEB84",
			MaxColor: "#F8696B",
		}})
		if err != nil {
			return 0, err
		}
	}
	return top + len(h.Values) + 2, nil
}

// writeSummaryRows writes min, median and max of the filled cells.
func writeSummaryRows(f *excelize.File, sheet string, top int, values []float64) error {
	lo, hi := math.NaN(), math.NaN()
	for i, v := range values {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	rows := []struct {
		name  string
		value float64
	}{{"min", lo}, {"median", Median(values)}, {"max", hi}}
	for i, row := range rows {
		cells := []any{row.name, xlsxValue(row.value)}
		cell, _ := excelize.CoordinatesToCellName(1, top+i)
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

// sheetNames hands out unique worksheet names.
type sheetNames map[string]bool

func (u sheetNames) next(name string) string {
	base := sheetName(name)
	name = base
	for i := 2; u[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		name = sheetName(base[:min(len(base), 31-len(suffix))] + suffix)
	}
	u[strings.ToLower(name)] = true
	return name
}

// heatmapBook writes one sheet per (class, metric) pair. fill writes the
// content of one sheet.
func (r *Report) heatmapBook(path string, classes []enums.ClassId, metrics []Metric,
	fill func(f *excelize.File, sheet string, class enums.ClassId, m Metric) error) error {
	if len(classes) == 0 {
		return nil
	}
	f := excelize.NewFile()
	defer f.Close()
	used := sheetNames{}
	first := true
	for _, class := range classes {
		for _, m := range metrics {
			sheet, err := addSheet(f, used.next(r.settings.ClassName(class)+" "+m.Name(r.settings)), first)
			if err != nil {
				return fmt.Errorf("write heatmap %s: %w", filepath.Base(path), err)
			}
			first = false
			if err := fill(f, sheet, class, m); err != nil {
				return fmt.Errorf("write heatmap %s: %w", filepath.Base(path), err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WritePlateHeatmap writes heatmap_plate.xlsx with one plate per class and
// column.
func (r *Report) WritePlateHeatmap(path string) error {
	classes, cols := r.columns(r.Images())
	return r.heatmapBook(path, classes, uniqueMetrics(cols), func(f *excelize.File, sheet string, class enums.ClassId, m Metric) error {
		h := r.PlateHeatmap(class, m)
		next, err := writeHeatmap(f, sheet, 1, h)
		if err != nil {
			return err
		}
		return writeSummaryRows(f, sheet, next, h.Filled())
	})
}

// WriteWellHeatmap writes heatmap_well.xlsx with the wells stacked below
// each other.
func (r *Report) WriteWellHeatmap(path string) error {
	classes, cols := r.columns(r.Images())
	return r.heatmapBook(path, classes, uniqueMetrics(cols), func(f *excelize.File, sheet string, class enums.ClassId, m Metric) error {
		top := 1
		for _, h := range r.WellHeatmaps(class, m) {
			next, err := writeHeatmap(f, sheet, top, h)
			if err != nil {
				return err
			}
			top = next
		}
		return nil
	})
}

// WriteImageHeatmap writes heatmap_image_<name>.xlsx with one sheet per
// class, area width and metric.
func WriteImageHeatmap(dir string, res *ImageResult, s *settings.AnalyzeSettings) error {
	classes := res.Objects.Classes()
	if len(classes) == 0 {
		return nil
	}
	name := strings.TrimSuffix(res.Name(), filepath.Ext(res.Name()))
	path := filepath.Join(dir, "heatmap_image_"+name+".xlsx")
	metrics := metricsFor(channels(res.Objects.Flatten().Rois()))

	f := excelize.NewFile()
	defer f.Close()
	used := sheetNames{}
	first := true
	for _, class := range classes {
		for _, width := range s.Reporting.Heatmap.ImageHeatmapAreaWidth {
			for _, m := range metrics {
				h := ImageHeatmap(res, class, width, m, s)
				sheet, err := addSheet(f, used.next(h.Title), first)
				if err != nil {
					return fmt.Errorf("write image heatmap of %s: %w", res.Name(), err)
				}
				first = false
				if _, err := writeHeatmap(f, sheet, 1, h); err != nil {
					return fmt.Errorf("write image heatmap of %s: %w", res.Name(), err)
				}
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func uniqueMetrics(cols []column) []Metric {
	seen := map[Metric]bool{}
	var out []Metric
	for _, c := range cols {
		if !seen[c.metric] {
			seen[c.metric] = true
			out = append(out, c.metric)
		}
	}
	return out
}
