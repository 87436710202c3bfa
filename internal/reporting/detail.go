package reporting

import (
	"fmt"
	"path/filepath"
	"sort"

	"imagec/internal/enums"
	"imagec/internal/roi"
	"imagec/internal/settings"
	"imagec/pkg/geometry"
)

// ImageResult is everything the processor found in one image. ROIs are in
// image coordinates.
type ImageResult struct {
	Path        string
	Size        geometry.Size
	TileSize    geometry.Size
	Objects     roi.ObjectMap
	TilesFailed int
}

// Name returns the file name of the image.
func (r *ImageResult) Name() string {
	return filepath.Base(r.Path)
}

// Ordered returns all ROIs sorted by (t, z, c, tileY, tileX). ROIs of one
// tile keep their discovery order.
func (r *ImageResult) Ordered() []*roi.ROI {
	all := r.Objects.Flatten().Rois()
	out := append([]*roi.ROI(nil), all...)
	tileOf := func(v *roi.ROI) (int, int) {
		if r.TileSize.Width <= 0 || r.TileSize.Height <= 0 {
			return 0, 0
		}
		return v.BBox.Y / r.TileSize.Height, v.BBox.X / r.TileSize.Width
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Plane(), out[j].Plane()
		if a.TStack != b.TStack {
			return a.TStack < b.TStack
		}
		if a.ZStack != b.ZStack {
			return a.ZStack < b.ZStack
		}
		if a.CStack != b.CStack {
			return a.CStack < b.CStack
		}
		ay, ax := tileOf(out[i])
		by, bx := tileOf(out[j])
		if ay != by {
			return ay < by
		}
		return ax < bx
	})
	return out
}

// channels returns the measured channels of all ROIs, sorted.
func channels(rois []*roi.ROI) []int32 {
	seen := map[int32]bool{}
	var out []int32
	for _, r := range rois {
		for c := range r.Intensities() {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func intersectingClasses(rois []*roi.ROI) []enums.ClassId {
	seen := map[enums.ClassId]bool{}
	var out []enums.ClassId
	for _, r := range rois {
		for c := range r.IntersectingRois() {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DetailTable lists every ROI of the image with its shape, validity and
// measurements.
func DetailTable(res *ImageResult, s *settings.AnalyzeSettings) *Table {
	rois := res.Ordered()
	chs := channels(rois)
	inter := intersectingClasses(rois)
	px := s.Options.PixelInMicrometer

	t := &Table{
		Name: "Objects",
		Header: []string{
			"class", "index", "confidence", "area", "area [um2]", "perimeter", "circularity", "validity",
			"t", "z", "c", "x", "y", "width", "height", "distances",
		},
	}
	for _, c := range chs {
		name := s.ChannelName(c)
		t.Header = append(t.Header, name+" avg", name+" min", name+" max")
	}
	for _, c := range inter {
		t.Header = append(t.Header, "intersecting "+s.ClassName(c))
	}

	for _, r := range rois {
		p := r.Plane()
		row := []any{
			s.ClassName(r.ClassId()), r.Index, float64(r.Confidence), r.AreaSize(),
			float64(r.AreaSize()) * px * px, r.Perimeter() * px, r.Circularity(), r.Validity.String(),
			p.TStack, p.ZStack, p.CStack, r.BBox.X, r.BBox.Y, r.BBox.Width, r.BBox.Height,
			len(r.Distances()),
		}
		for _, c := range chs {
			if v, ok := r.Intensity(c); ok {
				row = append(row, v.Avg, v.Min, v.Max)
			} else {
				row = append(row, nil, nil, nil)
			}
		}
		for _, c := range inter {
			n := 0
			if entry, ok := r.IntersectingRois()[c]; ok {
				n = len(entry.Valid)
			}
			row = append(row, n)
		}
		t.AddRow(row...)
	}
	return t
}

// DistanceTable lists the stored distance measurements.
func DistanceTable(res *ImageResult, s *settings.AnalyzeSettings) *Table {
	px := s.Options.PixelInMicrometer
	t := &Table{
		Name:   "Distances",
		Header: []string{"class", "index", "to class", "to index", "center to center", "center to surface min", "center to surface max"},
	}
	for _, r := range res.Ordered() {
		for _, d := range r.Distances() {
			t.AddRow(s.ClassName(r.ClassId()), r.Index, s.ClassName(d.ToClass), d.ToIndex,
				d.CenterToCenter*px, d.CenterToSurfaceMin*px, d.CenterToSurfaceMax*px)
		}
	}
	return t
}

// WriteDetail writes detail.csv and, with withXLSX, detail.xlsx into dir.
func WriteDetail(dir string, res *ImageResult, s *settings.AnalyzeSettings, withXLSX bool) error {
	detail := DetailTable(res, s)
	if err := detail.WriteCSV(filepath.Join(dir, "detail.csv")); err != nil {
		return fmt.Errorf("write detail report of %s: %w", res.Name(), err)
	}
	if !withXLSX {
		return nil
	}
	tables := []*Table{detail}
	if distances := DistanceTable(res, s); len(distances.Rows) > 0 {
		tables = append(tables, distances)
	}
	if err := WriteXLSX(filepath.Join(dir, "detail.xlsx"), tables...); err != nil {
		return fmt.Errorf("write detail report of %s: %w", res.Name(), err)
	}
	return nil
}
