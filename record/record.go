package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/CK6170/EposForce-go/models"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	// SheetName is the worksheet written to XLSX logs.
	SheetName = "Force Data"
)

// Header is the acquisition metadata printed above the data block.
type Header struct {
	Duration float64 // s per step
	Rate     float64 // Hz
	Labels   []string
	// Simulated names the simulated devices, e.g. "motor, DAQ". Empty for a
	// run on real hardware.
	Simulated string
}

// columns names one column per output. Outputs beyond the labels are named
// OutN so no value is dropped.
func (h Header) columns(outputs int) []string {
	labels := h.Labels
	if len(labels) == 0 {
		labels = models.DefaultLabels
	}
	if outputs < len(labels) {
		outputs = len(labels)
	}
	cols := make([]string, 0, outputs+3)
	cols = append(cols, "Sample No.")
	cols = append(cols, labels...)
	for i := len(labels); i < outputs; i++ {
		cols = append(cols, fmt.Sprintf("Out%d", i+1))
	}
	return append(cols, "Motor Pos (mm)", "Elapsed (s)")
}

// Table lays out the log: two metadata rows (three for a simulated run), a
// blank row, the column header, then one row per record. Every row has the
// same width.
func Table(h Header, recs []models.Record) [][]interface{} {
	outputs := 0
	for _, rec := range recs {
		if len(rec.Reading) > outputs {
			outputs = len(rec.Reading)
		}
	}
	cols := h.columns(outputs)
	width := len(cols)
	row := func(vals ...interface{}) []interface{} {
		r := make([]interface{}, width)
		copy(r, vals)
		return r
	}
	out := make([][]interface{}, 0, len(recs)+4)
	out = append(out,
		row("Data Collection Duration (s):", h.Duration),
		row("Force Sensor Sample rate (Hz):", h.Rate),
	)
	if h.Simulated != "" {
		out = append(out, row("Simulated:", h.Simulated))
	}
	out = append(out, row())
	header := make([]interface{}, width)
	for i, c := range cols {
		header[i] = c
	}
	out = append(out, header)
	for _, rec := range recs {
		r := make([]interface{}, 0, width)
		r = append(r, rec.Sample)
		for i := 0; i < width-3; i++ {
			if i < len(rec.Reading) {
				r = append(r, rec.Reading[i])
			} else {
				r = append(r, nil)
			}
		}
		r = append(r, rec.Position, rec.Elapsed)
		out = append(out, r)
	}
	return out
}

// WriteCSV writes the table with empty cells for missing values.
func WriteCSV(w io.Writer, h Header, recs []models.Record) error {
	cw := csv.NewWriter(w)
	for _, r := range Table(h, recs) {
		cells := make([]string, len(r))
		for i, v := range r {
			cells[i] = cell(v)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// WriteXLSX writes the table to a new workbook at path.
func WriteXLSX(path string, h Header, recs []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	for i, r := range Table(h, recs) {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := sw.SetRow(ref, r); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// FormatOf picks the output format: explicit format first, then the file
// extension, then CSV.
func FormatOf(path, format string) string {
	switch strings.ToLower(format) {
	case FormatCSV, FormatXLSX:
		return strings.ToLower(format)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// Save writes recs to path, creating the parent directory if needed.
func Save(path, format string, h Header, recs []models.Record) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if FormatOf(path, format) == FormatXLSX {
		return WriteXLSX(path, h, recs)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, h, recs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
