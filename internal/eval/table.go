package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MeanLabel marks the aggregate row.
const MeanLabel = "Mean"

type Row struct {
	Question  string             `json:"question"`
	Answer    string             `json:"answer"`
	Contexts  []string           `json:"contexts"`
	Reference string             `json:"reference"`
	Scores    map[string]float64 `json:"scores"`
}

// Table is the scored question set. Metrics fixes the score column order.
type Table struct {
	Metrics []string `json:"metrics"`
	Rows    []Row    `json:"rows"`
}

// AppendMean adds the column-wise mean of every metric as a final row.
func (t *Table) AppendMean() {
	mean := Row{Question: MeanLabel, Scores: make(map[string]float64, len(t.Metrics))}
	if len(t.Rows) == 0 {
		t.Rows = append(t.Rows, mean)
		return
	}
	for _, m := range t.Metrics {
		var sum float64
		for _, r := range t.Rows {
			sum += r.Scores[m]
		}
		mean.Scores[m] = sum / float64(len(t.Rows))
	}
	t.Rows = append(t.Rows, mean)
}

func (t *Table) header() []string {
	return append([]string{"question", "answer", "contexts", "reference"}, t.Metrics...)
}

func (t *Table) record(r Row) ([]string, error) {
	contexts := ""
	if r.Question != MeanLabel {
		b, err := json.Marshal(r.Contexts)
		if err != nil {
			return nil, fmt.Errorf("encode contexts: %w", err)
		}
		contexts = string(b)
	}
	rec := []string{r.Question, r.Answer, contexts, r.Reference}
	for _, m := range t.Metrics {
		rec = append(rec, strconv.FormatFloat(r.Scores[m], 'f', -1, 64))
	}
	return rec, nil
}

func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header()); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec, err := t.record(r)
		if err != nil {
			return err
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the table as CSV, or as XLSX when path ends in .xlsx.
func (t *Table) Save(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return t.saveXLSX(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (t *Table) saveXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	write := func(row int, values []any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &values)
	}

	header := make([]any, 0, 4+len(t.Metrics))
	for _, h := range t.header() {
		header = append(header, h)
	}
	if err := write(1, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range t.Rows {
		rec, err := t.record(r)
		if err != nil {
			return err
		}
		values := make([]any, 0, len(rec))
		for _, v := range rec[:4] {
			values = append(values, v)
		}
		for _, m := range t.Metrics {
			values = append(values, r.Scores[m])
		}
		if err := write(i+2, values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// ResultPath names the results file for a question set:
// <dir>/<stem>_evaluation_results<ext>. An empty dir keeps the input's dir.
func ResultPath(input, dir, ext string) string {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	if ext == "" {
		ext = ".csv"
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+"_evaluation_results"+ext)
}
