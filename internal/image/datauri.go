package imagepkg

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Encoded is a canonical, embeddable image.
type Encoded struct {
	Data []byte
	MIME string
}

// DataURI renders e as an inline data URI.
func (e *Encoded) DataURI() string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	return EncodeDataURI(e.MIME, e.Data)
}

func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI into its media type and payload.
func ParseDataURI(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return "", nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URI has no payload")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URI %q is not base64 encoded", mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data URI payload: %w", err)
	}
	return mime, data, nil
}
