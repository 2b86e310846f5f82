package batch

import (
	"encoding/json"
	"fmt"
	"os"

	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/util"
)

// RecordsFile is the name of the resolved-records hand-off file inside a run directory.
const RecordsFile = "records.json"

type recordEntry struct {
	Name        string             `json:"name"`
	Roll        string             `json:"roll"`
	Date        string             `json:"date,omitempty"`
	Image       string             `json:"image,omitempty"`
	PhotoBase64 string             `json:"photo_base64"`
	Source      record.MatchSource `json:"source,omitempty"`
	RawFields   map[string]string  `json:"raw_fields,omitempty"`
}

// WriteRecords stores resolved records so that rendering can run as a
// separate step. Photos are embedded as data URIs.
func WriteRecords(path string, recs []record.Resolved) error {
	entries := make([]recordEntry, len(recs))
	for i, r := range recs {
		entries[i] = recordEntry{
			Name:        r.Record.Name,
			Roll:        r.Record.Identifier,
			Date:        r.Record.Date,
			Image:       r.Record.Image,
			PhotoBase64: r.Photo.DataURI(),
			Source:      r.Source,
			RawFields:   r.Record.RawFields,
		}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return util.WriteFileAtomic(path, b)
}

// ReadRecords loads a file written by WriteRecords.
func ReadRecords(path string) ([]record.Resolved, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []recordEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]record.Resolved, len(entries))
	for i, e := range entries {
		out[i] = record.Resolved{
			Record: record.Canonical(record.Record{
				Name:       e.Name,
				Identifier: e.Roll,
				Date:       e.Date,
				Image:      e.Image,
				RawFields:  e.RawFields,
			}),
			Source: e.Source,
		}
		if e.PhotoBase64 == "" {
			continue
		}
		mime, data, err := imagepkg.ParseDataURI(e.PhotoBase64)
		if err != nil {
			return nil, fmt.Errorf("record %d photo: %w", i, err)
		}
		out[i].Photo = &imagepkg.Encoded{Data: data, MIME: mime}
	}
	return out, nil
}
