package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMissingPlaceholder means the template lacks a placeholder the renderer must fill.
	ErrMissingPlaceholder = errors.New("template is missing a required placeholder")
	// ErrUnknownPlaceholder means the template references a value that was not supplied.
	ErrUnknownPlaceholder = errors.New("template references an unknown placeholder")
	// ErrMalformedTemplate covers unbalanced or invalid braces.
	ErrMalformedTemplate = errors.New("malformed template")
)

// Placeholder names understood by the renderer.
const (
	KeyName             = "name"
	KeyRoll             = "roll_no"
	KeyDate             = "date"
	KeyCertID           = "cert_id"
	KeyPhoto            = "photo_base64"
	KeyQR               = "qr_base64"
	KeySignature        = "signature_base64"
	KeyBadgeContent     = "id_name_content"
	KeyBadgeFontSize    = "id_name_fontsize"
	KeyHeadlineFontSize = "main_name_fontsize"
)

// RequiredPlaceholders must all appear in a certificate template.
var RequiredPlaceholders = []string{
	KeyName, KeyRoll, KeyDate, KeyCertID, KeyPhoto, KeyQR, KeySignature,
	KeyBadgeContent, KeyBadgeFontSize, KeyHeadlineFontSize,
}

type segment struct {
	literal string
	key     string
}

// Template is text with {name} placeholders; {{ and }} stand for literal braces.
type Template struct {
	segments []segment
	keys     map[string]bool
}

// ParseTemplate parses text and checks that every required placeholder occurs.
func ParseTemplate(text string, required ...string) (*Template, error) {
	t := &Template{keys: make(map[string]bool)}
	var lit strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedTemplate, i)
			}
			key := text[i+1 : i+1+end]
			if !validKey(key) {
				return nil, fmt.Errorf("%w: invalid placeholder %q at offset %d", ErrMalformedTemplate, key, i)
			}
			if lit.Len() > 0 {
				t.segments = append(t.segments, segment{literal: lit.String()})
				lit.Reset()
			}
			t.segments = append(t.segments, segment{key: key})
			t.keys[key] = true
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}

	var missing []string
	for _, k := range required {
		if !t.keys[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPlaceholder, strings.Join(missing, ", "))
	}
	return t, nil
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for i, r := range k {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Placeholders lists the distinct placeholder names in sorted order.
func (t *Template) Placeholders() []string {
	out := make([]string, 0, len(t.keys))
	for k := range t.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Execute substitutes values literally. Every placeholder must have a value.
func (t *Template) Execute(values map[string]string) (string, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.key == "" {
			sb.WriteString(s.literal)
			continue
		}
		v, ok := values[s.key]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, s.key)
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}
