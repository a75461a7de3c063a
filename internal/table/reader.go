package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"dsstrack/internal/util"

	"github.com/xuri/excelize/v2"
)

// Read parses an uploaded file, choosing the format by extension.
func Read(filename string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return ReadCSV(data)
	case ".xlsx", ".xlsm":
		return ReadXLSX(data)
	case ".xls":
		return nil, fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx", util.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q, upload CSV or Excel", util.ErrValidation, filepath.Ext(filename))
	}
}

// ReadCSV parses delimited text. The delimiter is sniffed from the header line
// among comma, semicolon and tab.
func ReadCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comma = sniffDelimiter(data)

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", util.ErrValidation)
		}
		return nil, fmt.Errorf("%w: read csv header: %v", util.ErrValidation, err)
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", util.ErrValidation, err)
		}
		rows = append(rows, rec)
	}
	return New(header, rows)
}

// ReadXLSX parses the first worksheet of a workbook.
func ReadXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", util.ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", util.ErrValidation)
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", util.ErrValidation, sheets[0], err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", util.ErrValidation, sheets[0])
	}
	return New(all[0], all[1:])
}

func sniffDelimiter(data []byte) rune {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		return ','
	}
	line := sc.Text()
	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
