package verify

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateID(t *testing.T) {
	assert.Equal(t, "AIKR007", CertificateID("AIK", "R007"))
}

func TestPayload_EncodeMatchesWireFormat(t *testing.T) {
	p := Payload{Name: "ANITA KUMAR", Identifier: "R007", Date: "2024-01-01", CertificateID: "AIKR007"}
	want := base64.URLEncoding.EncodeToString([]byte("ANITA KUMAR;R007;2024-01-01;AIKR007"))
	assert.Equal(t, want, p.Encode())
	assert.Equal(t, "https://certs.example.org/v#"+want, p.URL("https://certs.example.org/"))
}

func TestDecodePayload(t *testing.T) {
	p := Payload{Name: "A;B", Identifier: "R1", Date: "2024", CertificateID: "AIKR1"}
	got, err := DecodePayload(p.URL("http://x"))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	unpadded := strings.TrimRight(p.Encode(), "=")
	got, err = DecodePayload(unpadded)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodePayload(base64.URLEncoding.EncodeToString([]byte("only;two")))
	assert.True(t, errors.Is(err, ErrMalformedPayload))
	_, err = DecodePayload("!!!")
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestEncoder_Build(t *testing.T) {
	e := &Encoder{Domain: "https://certs.example.org", Prefix: "AIK", QRSize: 200}
	v, err := e.Build("ANITA KUMAR", "R007", "2024")
	require.NoError(t, err)
	assert.Equal(t, "AIKR007", v.CertificateID)
	assert.True(t, strings.HasPrefix(v.URL, "https://certs.example.org/v#"))

	img, err := png.Decode(bytes.NewReader(v.QRPNG))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.True(t, strings.HasPrefix(v.QRDataURI(), "data:image/png;base64,"))
}

func TestEncoder_BuildIsDeterministic(t *testing.T) {
	e := &Encoder{Domain: "https://certs.example.org", Prefix: "AIK", QRSize: 200}
	a, err := e.Build("ANITA KUMAR", "R007", "2024")
	require.NoError(t, err)
	b, err := e.Build("ANITA KUMAR", "R007", "2024")
	require.NoError(t, err)
	assert.Equal(t, a.QRPNG, b.QRPNG)
}

func TestEncoder_PayloadTooLarge(t *testing.T) {
	e := &Encoder{Domain: "https://certs.example.org", Prefix: "AIK"}
	_, err := e.Build(strings.Repeat("X", 4000), "R1", "2024")
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}
