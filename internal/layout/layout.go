// Package layout sizes and wraps display names for the certificate template.
package layout

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// MaxLineLen caps the characters per badge line for long names.
const MaxLineLen = 18

// Block is a wrapped badge name with its font size.
type Block struct {
	Lines    []string
	FontSize int
	// RaiseFirst shifts the first baseline upward so three lines stay centered.
	RaiseFirst bool
}

// Badge wraps an uppercased ASCII name for the ID badge.
func Badge(name string) Block {
	name = strings.TrimSpace(name)
	words := strings.Fields(name)
	if len(words) == 0 {
		return Block{FontSize: 50}
	}
	n := len(name)

	switch {
	case n <= 15:
		return Block{Lines: []string{name}, FontSize: 45}
	case n <= 20:
		return Block{Lines: []string{name}, FontSize: 35}
	case n <= 35:
		if len(words) == 1 {
			return Block{Lines: []string{name}, FontSize: 30}
		}
		first, idx := words[0], 1
		for idx < len(words) && len(first)+1+len(words[idx]) < MaxLineLen {
			first += " " + words[idx]
			idx++
		}
		return Block{Lines: []string{first, strings.Join(words[idx:], " ")}, FontSize: 40}
	}

	lines := wrap(words, MaxLineLen)
	if len(lines) <= 2 {
		return Block{Lines: lines, FontSize: 35}
	}
	return Block{Lines: lines[:3], FontSize: 30, RaiseFirst: true}
}

// wrap greedily packs words into lines of at most limit characters. A word
// longer than limit occupies a line of its own.
func wrap(words []string, limit int) []string {
	var lines []string
	current := ""
	for _, w := range words {
		if len(current)+len(w)+1 <= limit {
			if current != "" {
				current += " "
			}
			current += w
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = w
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// HeadlineSize picks the font size of the large centered name.
func HeadlineSize(name string) int {
	switch n := len(name); {
	case n <= 15:
		return 160
	case n <= 20:
		return 140
	case n <= 30:
		return 110
	case n <= 40:
		return 90
	default:
		return 70
	}
}

// TSpans renders the block as SVG tspan elements anchored at x.
func (b Block) TSpans(x float64) string {
	xs := strconv.FormatFloat(x, 'f', -1, 64)
	var sb strings.Builder
	for i, line := range b.Lines {
		dy := "1.2em"
		switch {
		case len(b.Lines) == 1:
		case b.RaiseFirst && i == 0:
			dy = "-0.5em"
		case b.RaiseFirst:
			dy = "1.1em"
		case i == 0:
			dy = "0"
		}
		sb.WriteString(`<tspan x="` + xs + `" dy="` + dy + `">`)
		_ = xml.EscapeText(&sb, []byte(line))
		sb.WriteString(`</tspan>`)
	}
	return sb.String()
}
