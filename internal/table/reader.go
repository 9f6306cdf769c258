package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadOptions selects the worksheet to load.
type ReadOptions struct {
	// SheetIndex is the zero-based worksheet index, used when SheetName is empty.
	SheetIndex int
	// SheetName selects a worksheet by name.
	SheetName string
}

// ReadFile loads one worksheet of the workbook at path. The first row is the
// header; every following row is a record.
func ReadFile(path string, opts ReadOptions) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %q: %w", path, err)
	}
	defer f.Close()

	return readWorkbook(f, opts)
}

// Read loads one worksheet of a workbook streamed from r.
func Read(r io.Reader, opts ReadOptions) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	return readWorkbook(f, opts)
}

func readWorkbook(f *excelize.File, opts ReadOptions) (*Dataset, error) {
	sheet, err := selectSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return FromRows(nil, nil), nil
	}

	return FromRows(rows[0], rows[1:]), nil
}

func selectSheet(f *excelize.File, opts ReadOptions) (string, error) {
	sheets := f.GetSheetList()

	if opts.SheetName != "" {
		for _, name := range sheets {
			if name == opts.SheetName {
				return name, nil
			}
		}
		return "", fmt.Errorf("sheet %q not found in workbook", opts.SheetName)
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(sheets) {
		return "", fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", opts.SheetIndex, len(sheets))
	}
	return sheets[opts.SheetIndex], nil
}
