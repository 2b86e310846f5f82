// Package tabular reads delimited text, spreadsheet workbooks and
// table-bearing PDF documents into an ordered table of text cells.
package tabular

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedFormat means the file extension names no known format.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoTabularData means document extraction found no data rows.
	ErrNoTabularData = errors.New("no tabular data found")
)

// Format is the detected input encoding.
type Format int

const (
	FormatDelimited Format = iota + 1
	FormatSpreadsheet
	FormatDocument
)

func (f Format) String() string {
	switch f {
	case FormatDelimited:
		return "delimited"
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatDocument:
		return "document"
	}
	return "unknown"
}

// Table is an ordered sequence of rows keyed by Header. Rows may be shorter
// than Header; missing cells read as empty.
type Table struct {
	Header []string
	Rows   [][]string
	// Positional is set when no header row was found and Header holds column indexes.
	Positional bool
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Cell returns the cell of row i in column j, or "".
func (t *Table) Cell(i, j int) string {
	if i < 0 || i >= len(t.Rows) || j < 0 || j >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][j]
}

// Row returns row i as a header→cell mapping. When headers repeat, the last column wins.
func (t *Table) Row(i int) map[string]string {
	out := make(map[string]string, len(t.Header))
	for j, h := range t.Header {
		out[h] = t.Cell(i, j)
	}
	return out
}

// DetectFormat maps a file extension onto a Format.
func DetectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt":
		return FormatDelimited, nil
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatSpreadsheet, nil
	case ".pdf":
		return FormatDocument, nil
	case ".xls":
		return 0, fmt.Errorf("%w: legacy .xls workbook, save it as .xlsx", ErrUnsupportedFormat)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Read detects the format of path from its extension and reads it.
func Read(path string) (*Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	return ReadFormat(path, format)
}

// ReadFormat reads path as the given format.
func ReadFormat(path string, format Format) (*Table, error) {
	switch format {
	case FormatDelimited:
		return readDelimited(path)
	case FormatSpreadsheet:
		return readSpreadsheet(path)
	case FormatDocument:
		return readDocument(path)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
}

// fromRows builds a table whose first row is the header.
func fromRows(rows [][]string) *Table {
	rows = dropBlank(rows)
	if len(rows) == 0 {
		return &Table{}
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	return &Table{Header: header, Rows: rows[1:]}
}

// fromExtracted applies the header heuristic to extracted document rows: the
// first row is a header only when a cell mentions NAME or ROLL.
func fromExtracted(rows [][]string) *Table {
	if len(rows) == 0 {
		return &Table{}
	}
	if looksLikeHeader(rows[0]) {
		return fromRows(rows)
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	header := make([]string, width)
	for i := range header {
		header[i] = strconv.Itoa(i)
	}
	return &Table{Header: header, Rows: rows, Positional: true}
}

func looksLikeHeader(row []string) bool {
	for _, c := range row {
		u := strings.ToUpper(c)
		if strings.Contains(u, "NAME") || strings.Contains(u, "ROLL") {
			return true
		}
	}
	return false
}

func dropBlank(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, r := range rows {
		if nonEmpty(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func nonEmpty(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}
