package voltage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"chargewatch/internal/model"
)

var reportHeaders = []string{
	"Site", "Name Project", "Id Project", "Connector", "Session ID",
	"SOC Start", "SOC End", "Energy (kWh)", "Start", "End",
	"Signal", "Project", "Samples", "Peaks", "Valleys",
	"Min Voltage", "Max Voltage", "Verdict", "Comment",
}

const reportSheet = "Voltage"

// WriteReport writes the classification report. The format follows the file
// extension: .csv for CSV, anything else for an Excel workbook.
func WriteReport(path string, rows []model.VoltageClassification) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return writeCSV(path, rows)
	}
	return writeXLSX(path, rows)
}

func reportRow(vc model.VoltageClassification) []any {
	s := vc.Session
	site := s.Site
	if site == "" {
		site = s.NameProject
	}
	row := []any{
		site, s.NameProject, s.IDProject, s.Connector, s.ID,
		optFloat(s.SOCStart), optFloat(s.SOCEnd), optFloat(s.EnergyKWh),
		s.Start.UTC().Format(time.DateTime), optTime(s.End),
		vc.Signal, vc.Project, vc.Samples, vc.Peaks, vc.Valleys,
		nil, nil, string(vc.Verdict), vc.Verdict.Comment(),
	}
	if vc.Samples > 0 {
		row[15], row[16] = vc.Min, vc.Max
	}
	return row
}

func optFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.DateTime)
}

func writeXLSX(path string, rows []model.VoltageClassification) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for col, h := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return fmt.Errorf("header %s: %w", cell, err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(reportHeaders), 1)
	if err := f.SetCellStyle(reportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(reportHeaders))
	if err := f.SetColWidth(reportSheet, "A", lastCol, 16); err != nil {
		return fmt.Errorf("column width: %w", err)
	}

	for i, vc := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := reportRow(vc)
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}
	return f.SaveAs(path)
}

func writeCSV(path string, rows []model.VoltageClassification) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(reportHeaders); err != nil {
		return err
	}
	for _, vc := range rows {
		values := reportRow(vc)
		rec := make([]string, len(values))
		for i, v := range values {
			rec[i] = csvValue(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func csvValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
