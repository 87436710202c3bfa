package reporting

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"imagec/internal/settings"
)

// GroupInfo is the position of an image in the plate layout. Row and Col
// are 1 based and 0 when the filename does not match.
type GroupInfo struct {
	Group     string `json:"group"`
	WellLabel string `json:"wellLabel"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	ImageIdx  int    `json:"imageIdx"`
}

// OnPlate reports whether the image has a well position.
func (g GroupInfo) OnPlate() bool {
	return g.Row > 0 && g.Col > 0
}

// Grouper assigns images to report groups.
type Grouper struct {
	mode  settings.GroupBy
	regex *regexp.Regexp
}

// NewGrouper compiles the filename regex. It is compiled for every mode
// because the heatmaps need the well position independent of the grouping.
func NewGrouper(h settings.HeatmapSettings) (*Grouper, error) {
	expr := h.ImageFilenameRegex
	if expr == "" {
		expr = settings.DefaultImageFilenameRegex
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile image filename regex: %w", err)
	}
	return &Grouper{mode: h.GroupBy, regex: re}, nil
}

// RowNumber maps a row letter to its 1 based number: A=1, B=2, ...
func RowNumber(letter string) int {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return 0
	}
	return int(letter[0]-'A') + 1
}

// Group returns the group and well position of path.
func (g *Grouper) Group(path string) GroupInfo {
	var info GroupInfo
	base := filepath.Base(path)
	if m := g.regex.FindStringSubmatch(base); len(m) >= 4 {
		info.WellLabel = m[1]
		info.Row = RowNumber(m[2])
		info.Col, _ = strconv.Atoi(m[3])
		if len(m) >= 5 {
			info.ImageIdx, _ = strconv.Atoi(m[4])
		}
	}

	switch g.mode {
	case settings.GroupByFolder:
		info.Group = filepath.Base(filepath.Dir(path))
	case settings.GroupByFilename:
		info.Group = info.WellLabel
		if info.Group == "" {
			info.Group = base
		}
	default:
		info.Group = base
	}
	return info
}
