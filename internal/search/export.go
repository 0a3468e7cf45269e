package search

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

var columns = []string{"path", "collection", "id", "name"}

func (r Row) cells() []string {
	return []string{r.Path, r.Collection, r.ID, r.Name}
}

// Rows extracts the tabular rows of hits.
func Rows(hits []Hit) []Row {
	out := make([]Row, len(hits))
	for i, h := range hits {
		out[i] = h.Row
	}
	return out
}

// WriteDelimited writes a header and one line per row. Every cell is wrapped
// in double quotes and embedded quotes are doubled.
func WriteDelimited(w io.Writer, rows []Row, sep rune) error {
	bw := bufio.NewWriter(w)
	writeLine := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				bw.WriteRune(sep)
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(c, `"`, `""`))
			bw.WriteByte('"')
		}
		bw.WriteByte('\n')
	}
	writeLine(columns)
	for _, r := range rows {
		writeLine(r.cells())
	}
	return bw.Flush()
}

// WriteTable writes rows as a fixed-width table aligned on display width,
// so wide and combining characters line up in a terminal.
func WriteTable(w io.Writer, rows []Row) error {
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	widths := make([]int, len(columns))
	measure := func(cells []string) {
		for i, c := range cells {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}
	measure(header)
	for _, r := range rows {
		measure(sanitize(r.cells()))
	}

	bw := bufio.NewWriter(w)
	writeLine := func(cells []string) {
		for i, c := range cells {
			if i == len(cells)-1 {
				bw.WriteString(c)
				break
			}
			bw.WriteString(runewidth.FillRight(c, widths[i]))
			bw.WriteString("  ")
		}
		bw.WriteByte('\n')
	}
	writeLine(header)
	for _, r := range rows {
		writeLine(sanitize(r.cells()))
	}
	return bw.Flush()
}

func sanitize(cells []string) []string {
	for i, c := range cells {
		cells[i] = strings.NewReplacer("\n", " ", "\t", " ").Replace(c)
	}
	return cells
}
