package table

import (
	"html"
	"strings"
)

const (
	tableOpen  = `<table border="1" cellspacing="0" cellpadding="5" style="border-collapse: collapse; width: 100%; word-wrap: break-word;">`
	headerOpen = `<tr style="background-color: lightblue; font-weight: bold; text-align: center;">`
	thOpen     = `<th style='padding: 5px; white-space: nowrap;'>`
	tdOpen     = `<td style='padding: 5px; word-wrap: break-word;'>`
)

// RenderOptions controls how cell content is written.
type RenderOptions struct {
	// Raw writes header names and cell values without HTML escaping,
	// reproducing the historical output byte for byte.
	Raw bool
}

// Render writes ds as a single styled HTML table: one header row followed
// by one row per record, cells in column order, missing values blank.
func Render(ds *Dataset, opts RenderOptions) string {
	text := html.EscapeString
	if opts.Raw {
		text = func(s string) string { return s }
	}

	var b strings.Builder
	b.WriteString(tableOpen)
	b.WriteString(headerOpen)
	for _, name := range ds.Columns() {
		b.WriteString(thOpen)
		b.WriteString(text(name))
		b.WriteString("</th>")
	}
	b.WriteString("</tr>")

	for r := 0; r < ds.NumRows(); r++ {
		b.WriteString("<tr>")
		for _, cell := range ds.Row(r) {
			b.WriteString(tdOpen)
			b.WriteString(text(cell.String()))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}

	b.WriteString("</table>")
	return b.String()
}
