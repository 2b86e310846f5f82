// Package schema maps free-form column headers onto the canonical field
// vocabulary and turns table rows into records.
package schema

import (
	"strings"

	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/tabular"
)

// Canonical field names.
const (
	FieldName  = "name"
	FieldRoll  = "roll"
	FieldImage = "image"
	FieldDate  = "date"
)

func containsAny(hay string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(hay, n) {
			return true
		}
	}
	return false
}

// Canonicalize lower-cases a raw header and maps it onto the vocabulary.
// Rules are tried in order: roll/registration, name (but not file name),
// image/photo/pic. Unmatched headers are returned lower-cased.
func Canonicalize(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	switch {
	case containsAny(h, "roll", "registration"):
		return FieldRoll
	case strings.Contains(h, "name") && !strings.Contains(h, "file"):
		return FieldName
	case containsAny(h, "image", "photo", "pic"):
		return FieldImage
	}
	return h
}

// Normalizer turns tables into records.
type Normalizer struct{}

// Mapping returns the canonical key for each column of header.
func (Normalizer) Mapping(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = Canonicalize(h)
	}
	return keys
}

// Normalize converts every row of t. When several columns map to the same
// key the right-most column wins.
func (n Normalizer) Normalize(t *tabular.Table) []record.Record {
	keys := n.Mapping(t.Header)
	out := make([]record.Record, 0, t.Len())
	for i := range t.Rows {
		fields := make(map[string]string, len(keys))
		for j, k := range keys {
			fields[k] = strings.TrimSpace(t.Cell(i, j))
		}
		out = append(out, FromFields(fields))
	}
	return out
}

// FromFields builds a canonical record from lower-cased canonical keys;
// keys outside the vocabulary land in RawFields.
func FromFields(fields map[string]string) record.Record {
	r := record.Record{
		Name:       fields[FieldName],
		Identifier: fields[FieldRoll],
		Date:       fields[FieldDate],
		Image:      fields[FieldImage],
	}
	for k, v := range fields {
		switch k {
		case FieldName, FieldRoll, FieldDate, FieldImage:
			continue
		}
		if r.RawFields == nil {
			r.RawFields = make(map[string]string)
		}
		r.RawFields[k] = v
	}
	return record.Canonical(r)
}

// Fields is the inverse of FromFields for a canonical record.
func Fields(r record.Record) map[string]string {
	out := make(map[string]string, len(r.RawFields)+4)
	for k, v := range r.RawFields {
		out[k] = v
	}
	out[FieldName] = r.Name
	out[FieldRoll] = r.Identifier
	if r.Date != "" {
		out[FieldDate] = r.Date
	}
	if r.Image != "" {
		out[FieldImage] = r.Image
	}
	return out
}
