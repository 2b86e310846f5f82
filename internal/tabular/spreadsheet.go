package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readSpreadsheet reads the first worksheet of a workbook.
func readSpreadsheet(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	t := fromRows(rows)
	if len(t.Header) == 0 {
		return nil, fmt.Errorf("sheet %q of %s has no header", sheets[0], path)
	}
	return t, nil
}
