package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/plantrack/dataplane/pkg/blob"
)

// Upload reads an uploaded spreadsheet snapshot out of blob storage. The
// format is sniffed from the bytes, not the filename: XLSX archives start
// with the zip magic, everything else is treated as CSV. SheetName picks a
// workbook tab; empty means the first sheet.
type Upload struct {
	Blobs     blob.Store
	Handle    string
	SheetName string
}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

func (u *Upload) Fetch(ctx context.Context) ([]string, [][]string, error) {
	r, err := u.Blobs.Get(ctx, u.Handle)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: stored file %s is gone", ErrUnavailable, u.Handle)
		}
		return nil, nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read stored file: %w", err)
	}
	return parse(data, u.SheetName)
}

// Parse sniffs and parses spreadsheet bytes into headers plus rows, reading
// the first sheet of workbooks.
func Parse(data []byte) ([]string, [][]string, error) {
	return parse(data, "")
}

func parse(data []byte, sheetName string) ([]string, [][]string, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", ErrFormat)
	}
	if bytes.HasPrefix(data, zipMagic) {
		return parseXLSX(data, sheetName)
	}
	return parseCSV(data)
}

func parseCSV(data []byte) ([]string, [][]string, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true

	var headers []string
	var rows [][]string
	for {
		record, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if headers == nil {
			headers = record
			continue
		}
		rows = append(rows, padRow(record, len(headers)))
	}
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("%w: no header row", ErrFormat)
	}
	return headers, rows, nil
}

func parseXLSX(data []byte, sheetName string) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: workbook has no sheets", ErrFormat)
	}
	target := sheets[0]
	if sheetName != "" {
		if !slices.Contains(sheets, sheetName) {
			return nil, nil, fmt.Errorf("%w: workbook has no sheet %q", ErrFormat, sheetName)
		}
		target = sheetName
	}
	grid, err := f.GetRows(target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(grid) == 0 {
		return nil, nil, fmt.Errorf("%w: no header row", ErrFormat)
	}

	headers := grid[0]
	rows := make([][]string, 0, len(grid)-1)
	for _, r := range grid[1:] {
		rows = append(rows, padRow(r, len(headers)))
	}
	return headers, rows, nil
}

// padRow right-pads short rows with empty cells and truncates long ones so
// every row lines up with the header width.
func padRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
