package imagepkg

import (
	"bytes"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// QRLevel is the error correction used for every verification code.
const QRLevel = qrcode.Medium

// GenerateQRPNG returns PNG bytes of a QR code for the given text, with the
// library's standard quiet zone around it.
func GenerateQRPNG(text string, size int) ([]byte, error) {
	q, err := qrcode.New(text, QRLevel)
	if err != nil {
		return nil, err
	}
	pngBytes, err := q.PNG(size)
	if err != nil {
		return nil, err
	}
	// validate png decode
	if _, err := png.Decode(bytes.NewReader(pngBytes)); err != nil {
		return nil, err
	}
	return pngBytes, nil
}
