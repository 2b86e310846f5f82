package tabular

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// span is one positioned run of text on a page row.
type span struct {
	X, W, Size float64
	S          string
}

const (
	// gaps wider than this many ems start a new cell
	cellGapEm = 0.8
	// gaps wider than this many ems inside a cell become a space
	wordGapEm = 0.15
)

// readDocument extracts table rows page by page and concatenates them.
// Only rows with at least two non-empty cells are kept.
func readDocument(path string) (*Table, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening document %s: %w", path, err)
	}
	defer f.Close()

	var rows [][]string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageRows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		for _, row := range pageRows {
			spans := make([]span, 0, len(row.Content))
			for _, t := range row.Content {
				spans = append(spans, span{X: t.X, W: t.W, Size: t.FontSize, S: t.S})
			}
			if cells := cellsFromSpans(spans); nonEmpty(cells) >= 2 {
				rows = append(rows, cells)
			}
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTabularData, path)
	}
	return fromExtracted(rows), nil
}

// cellsFromSpans orders spans left to right and splits them into cells at
// horizontal gaps wider than cellGapEm.
func cellsFromSpans(spans []span) []string {
	if len(spans) == 0 {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].X < spans[j].X })

	var cells []string
	var cur strings.Builder
	end := spans[0].X
	for i, s := range spans {
		size := s.Size
		if size <= 0 {
			size = 10
		}
		gap := s.X - end
		switch {
		case i == 0:
		case gap > cellGapEm*size:
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		case gap > wordGapEm*size && !strings.HasSuffix(cur.String(), " "):
			cur.WriteByte(' ')
		}
		cur.WriteString(s.S)
		end = max(end, s.X+s.W)
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells
}
