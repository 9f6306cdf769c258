// Package table holds the tabular dataset read from the report spreadsheet
// and renders it as the HTML table embedded in the report mail.
package table

import (
	"fmt"
	"strconv"
)

// Cell is a single scalar value. A cell with Valid == false is missing.
type Cell struct {
	Value string
	Valid bool
}

// Value returns a present cell holding s.
func Value(s string) Cell { return Cell{Value: s, Valid: true} }

// Missing returns a missing cell.
func Missing() Cell { return Cell{} }

// String returns the rendered form of the cell: its value, or "" if missing.
func (c Cell) String() string {
	if !c.Valid {
		return ""
	}
	return c.Value
}

// Column is a named, ordered sequence of cells.
type Column struct {
	Name  string
	Cells []Cell
}

// Dataset is an ordered set of columns of equal length.
type Dataset struct {
	columns []Column
	rows    int
}

// NewDataset validates that every column has the same number of cells.
func NewDataset(columns ...Column) (*Dataset, error) {
	ds := &Dataset{columns: columns}
	for i, col := range columns {
		if i == 0 {
			ds.rows = len(col.Cells)
			continue
		}
		if len(col.Cells) != ds.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", col.Name, len(col.Cells), ds.rows)
		}
	}
	return ds, nil
}

// FromRows builds a dataset from a header and row-major records. Records
// shorter than the widest row are padded with missing cells; extra header
// slots are created for rows wider than the header.
func FromRows(header []string, records [][]string) *Dataset {
	width := len(header)
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}

	names := columnNames(header, width)
	columns := make([]Column, width)
	for i := range columns {
		columns[i] = Column{Name: names[i], Cells: make([]Cell, len(records))}
	}

	for r, rec := range records {
		for c := 0; c < width; c++ {
			if c < len(rec) && rec[c] != "" {
				columns[c].Cells[r] = Value(rec[c])
			} else {
				columns[c].Cells[r] = Missing()
			}
		}
	}

	return &Dataset{columns: columns, rows: len(records)}
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the number of data rows.
func (d *Dataset) NumRows() int { return d.rows }

// Row returns the cells of row r in column order.
func (d *Dataset) Row(r int) []Cell {
	row := make([]Cell, len(d.columns))
	for i, c := range d.columns {
		row[i] = c.Cells[r]
	}
	return row
}

// columnNames fills blank header slots with "Unnamed: <index>" and suffixes
// repeated names with ".1", ".2", ... so every column name is unique.
func columnNames(header []string, width int) []string {
	names := make([]string, width)
	used := make(map[string]bool, width)
	suffixes := make(map[string]int, width)

	for i := 0; i < width; i++ {
		name := ""
		if i < len(header) {
			name = header[i]
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}

		if used[name] {
			base := name
			for used[name] {
				suffixes[base]++
				name = base + "." + strconv.Itoa(suffixes[base])
			}
		}

		used[name] = true
		names[i] = name
	}

	return names
}
