package reporting

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a header plus rows of cells. Cells are strings, integers or
// floats. NaN floats are written as empty cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// AddRow appends one row.
func (t *Table) AddRow(cells ...any) {
	t.Rows = append(t.Rows, cells)
}

func formatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		if math.IsNaN(c) {
			return ""
		}
		return strconv.FormatFloat(c, 'f', -1, 64)
	case float32:
		return formatCell(float64(c))
	default:
		return fmt.Sprint(c)
	}
}

// WriteCSV writes the table as comma separated file.
func (t *Table) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report folder: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	record := make([]string, 0, len(t.Header))
	for _, row := range t.Rows {
		record = record[:0]
		for _, cell := range row {
			record = append(record, formatCell(cell))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// sheetName makes name a valid worksheet name.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "Sheet"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

// addSheet returns the name of a new sheet, reusing the default sheet of a
// fresh workbook.
func addSheet(f *excelize.File, name string, first bool) (string, error) {
	name = sheetName(name)
	if first {
		if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
			return "", err
		}
		return name, nil
	}
	if _, err := f.NewSheet(name); err != nil {
		return "", err
	}
	return name, nil
}

func xlsxValue(v any) any {
	if c, ok := v.(float64); ok && (math.IsNaN(c) || math.IsInf(c, 0)) {
		return nil
	}
	if c, ok := v.(float32); ok {
		return xlsxValue(float64(c))
	}
	return v
}

// writeSheet writes the table with a bold, frozen header row.
func (t *Table) writeSheet(f *excelize.File, sheet string) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = xlsxValue(c)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// WriteXLSX writes the tables into one workbook, one sheet per table.
func WriteXLSX(path string, tables ...*Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report folder: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close()
	for i, t := range tables {
		sheet, err := addSheet(f, t.Name, i == 0)
		if err != nil {
			return fmt.Errorf("add sheet %s: %w", t.Name, err)
		}
		if err := t.writeSheet(f, sheet); err != nil {
			return fmt.Errorf("write sheet %s: %w", t.Name, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
