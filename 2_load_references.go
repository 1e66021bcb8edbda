package gscluster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Reference file column headers, matched case-insensitively.
const (
	urlColumn     = "URL"
	keywordColumn = "KEYWORD"
)

// LoadReferences reads reference URLs from an .xlsx or .csv file.
func LoadReferences(path string) ([]ReferenceURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference file: %w", err)
	}
	defer f.Close()
	return ReadReferences(f, filepath.Base(path))
}

// ReadReferences parses reference URLs from r. The format is picked from the
// extension of name. The first row holds the headers; a URL column is
// required and a KEYWORD column is optional. Rows without a URL are skipped.
func ReadReferences(r io.Reader, name string) ([]ReferenceURL, error) {
	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		rows, err = readExcelRows(r)
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rows, err = cr.ReadAll()
	default:
		return nil, fmt.Errorf("unsupported reference file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return referencesFromRows(rows)
}

// readExcelRows returns the rows of the first sheet.
func readExcelRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("spreadsheet has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func referencesFromRows(rows [][]string) ([]ReferenceURL, error) {
	if len(rows) == 0 {
		return nil, errors.New("reference file is empty")
	}

	urlCol, keywordCol := -1, -1
	for i, header := range rows[0] {
		header = strings.TrimPrefix(header, "\ufeff")
		switch strings.ToUpper(strings.TrimSpace(header)) {
		case urlColumn:
			if urlCol < 0 {
				urlCol = i
			}
		case keywordColumn:
			if keywordCol < 0 {
				keywordCol = i
			}
		}
	}
	if urlCol < 0 {
		return nil, fmt.Errorf("reference file has no %s column", urlColumn)
	}

	refs := make([]ReferenceURL, 0, len(rows)-1)
	for _, row := range rows[1:] {
		u := cellValue(row, urlCol)
		if u == "" {
			continue
		}
		refs = append(refs, ReferenceURL{URL: u, Keyword: cellValue(row, keywordCol)})
	}
	return refs, nil
}

func cellValue(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
