package record

import (
	"strings"

	imagepkg "github.com/youruser/certbatch/internal/image"
)

const (
	// UnknownName is used when a row carries no usable name.
	UnknownName = "UNKNOWN"
	// UnknownIdentifier marks a record without an identifier; it never takes part in matching.
	UnknownIdentifier = "N/A"
)

// Record is one normalized input row.
type Record struct {
	Name       string            `json:"name"`
	Identifier string            `json:"roll"`
	Date       string            `json:"date,omitempty"`
	Image      string            `json:"image,omitempty"`
	RawFields  map[string]string `json:"raw_fields,omitempty"`
}

// Resolved pairs a record with its matched photo. Photo is nil when no photo was found.
type Resolved struct {
	Record Record            `json:"record"`
	Photo  *imagepkg.Encoded `json:"-"`
	Source MatchSource       `json:"source,omitempty"`
}

// MatchSource records which resolution step produced the photo.
type MatchSource string

const (
	MatchNone       MatchSource = ""
	MatchIdentifier MatchSource = "identifier"
	MatchName       MatchSource = "name"
	MatchRemote     MatchSource = "remote"
)

// HasIdentifier reports whether the record's identifier may be used as a match key.
func (r Record) HasIdentifier() bool {
	return r.Identifier != "" && r.Identifier != UnknownIdentifier
}

// Key is the identifier when present, the name otherwise.
func (r Record) Key() string {
	if r.HasIdentifier() {
		return r.Identifier
	}
	return r.Name
}

// Clean trims s, drops every non-ASCII rune and uppercases the rest.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(strings.TrimSpace(b.String()))
}

// Canonical returns r with name and identifier cleaned and defaults applied.
// Canonical(Canonical(r)) == Canonical(r).
func Canonical(r Record) Record {
	out := r
	out.Name = Clean(r.Name)
	if out.Name == "" {
		out.Name = UnknownName
	}
	out.Identifier = Clean(r.Identifier)
	if out.Identifier == "" {
		out.Identifier = UnknownIdentifier
	}
	out.Date = strings.TrimSpace(r.Date)
	out.Image = strings.TrimSpace(r.Image)
	if len(r.RawFields) > 0 {
		out.RawFields = make(map[string]string, len(r.RawFields))
		for k, v := range r.RawFields {
			out.RawFields[k] = v
		}
	}
	return out
}
