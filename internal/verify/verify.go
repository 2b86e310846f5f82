// Package verify builds certificate identifiers, verification payloads and
// their QR codes.
package verify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	imagepkg "github.com/youruser/certbatch/internal/image"
)

// ErrPayloadTooLarge means the verification URL does not fit in a QR symbol.
var ErrPayloadTooLarge = errors.New("verification payload exceeds QR capacity")

// ErrMalformedPayload is returned by DecodePayload.
var ErrMalformedPayload = errors.New("malformed verification payload")

// Payload is the identity data carried by a certificate's QR code.
type Payload struct {
	Name          string `json:"name"`
	Identifier    string `json:"roll"`
	Date          string `json:"date"`
	CertificateID string `json:"cert_id"`
}

// CertificateID concatenates prefix and identifier.
func CertificateID(prefix, identifier string) string {
	return prefix + identifier
}

// Encode returns base64url(name;identifier;date;certificateId).
func (p Payload) Encode() string {
	raw := strings.Join([]string{p.Name, p.Identifier, p.Date, p.CertificateID}, ";")
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// URL roots the encoded payload as a fragment under domain.
func (p Payload) URL(domain string) string {
	return strings.TrimRight(domain, "/") + "/v#" + p.Encode()
}

// DecodePayload reverses Encode. Names containing ';' are tolerated because
// the trailing three fields are split off from the right.
func DecodePayload(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	parts := strings.Split(string(raw), ";")
	if len(parts) < 4 {
		return Payload{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedPayload, len(parts))
	}
	n := len(parts)
	return Payload{
		Name:          strings.Join(parts[:n-3], ";"),
		Identifier:    parts[n-3],
		Date:          parts[n-2],
		CertificateID: parts[n-1],
	}, nil
}

// Encoder produces the verification artifacts of one certificate.
type Encoder struct {
	Domain string
	Prefix string
	QRSize int
}

// Verification is everything the renderer needs to embed.
type Verification struct {
	CertificateID string
	URL           string
	QRPNG         []byte
}

// QRDataURI returns the QR code as an inline PNG data URI.
func (v Verification) QRDataURI() string {
	return imagepkg.EncodeDataURI("image/png", v.QRPNG)
}

// Build derives the certificate id, verification URL and QR code.
func (e *Encoder) Build(name, identifier, date string) (Verification, error) {
	certID := CertificateID(e.Prefix, identifier)
	p := Payload{Name: name, Identifier: identifier, Date: date, CertificateID: certID}
	url := p.URL(e.Domain)

	size := e.QRSize
	if size <= 0 {
		size = 300
	}
	qr, err := imagepkg.GenerateQRPNG(url, size)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	return Verification{CertificateID: certID, URL: url, QRPNG: qr}, nil
}
