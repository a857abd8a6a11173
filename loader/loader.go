// Package loader reads scrape targets out of tabular input files.
//
// The input layout is unconstrained: every non-empty cell across every
// column, row, and sheet is treated as one identifier. Spreadsheets are read
// with excelize; anything else is parsed as delimited text.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadError indicates the input file could not be read or parsed. It is the
// only run-fatal error in the pipeline: no identifiers means no run.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ReadIdentifiers flattens all cells of the file at path into trimmed string
// tokens, drops empties, deduplicates, and returns them sorted.
func ReadIdentifiers(path string) ([]string, error) {
	var (
		cells []string
		err   error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		cells, err = readSpreadsheet(path)
	default:
		cells, err = readDelimited(path)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	seen := make(map[string]struct{}, len(cells))
	ids := make([]string, 0, len(cells))
	for _, cell := range cells {
		id := strings.TrimSpace(cell)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func readSpreadsheet(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var cells []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			cells = append(cells, row...)
		}
	}
	return cells, nil
}

func readDelimited(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var cells []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		cells = append(cells, record...)
	}
	return cells, nil
}
