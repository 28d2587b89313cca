package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Question is one row of a question set: the question and its reference
// answer.
type Question struct {
	Question  string `json:"question"`
	Reference string `json:"reference"`
}

// LoadQuestions reads a CSV or XLSX question set with Question and Answer
// columns (case-insensitive). Rows with an empty question are skipped.
func LoadQuestions(path string) ([]Question, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("question set must be .csv or .xlsx, got %s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	return parseQuestions(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSVRows(f)
}

// ReadCSVRows reads every record, allowing ragged rows.
func ReadCSVRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	return rows, nil
}

func parseQuestions(rows [][]string) ([]Question, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("question set is empty")
	}
	qCol, aCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "question":
			qCol = i
		case "answer":
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, fmt.Errorf("question set needs Question and Answer columns, got %v", rows[0])
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	var out []Question
	for _, row := range rows[1:] {
		q := cell(row, qCol)
		if q == "" {
			continue
		}
		out = append(out, Question{Question: q, Reference: cell(row, aCol)})
	}
	return out, nil
}
