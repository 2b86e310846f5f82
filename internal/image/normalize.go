package imagepkg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrNoUsableImage is returned when input bytes cannot be turned into a photo.
var ErrNoUsableImage = errors.New("no usable image")

// Format is the canonical output encoding of a normalized photo.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat maps a config value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg", "":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// NormalizeOptions bound the output of Normalize.
type NormalizeOptions struct {
	MaxWidth    int
	Format      Format
	JPEGQuality int
}

// Normalizer decodes arbitrary raster input and re-encodes it canonically.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts NormalizeOptions
}

func NewNormalizer(opts NormalizeOptions) *Normalizer {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 800
	}
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	return &Normalizer{opts: opts}
}

// Normalize decodes b, flattens alpha and palette modes onto white, caps the
// width and re-encodes. Any decode failure is reported as ErrNoUsableImage.
func (n *Normalizer) Normalize(b []byte) (*Encoded, error) {
	if len(b) == 0 {
		return nil, ErrNoUsableImage
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUsableImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrNoUsableImage
	}

	if needsFlatten(img) {
		img = flatten(img)
	}
	if bounds.Dx() > n.opts.MaxWidth {
		img = imaging.Resize(img, n.opts.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch n.opts.Format {
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.opts.JPEGQuality))
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.opts.Format, err)
	}
	return &Encoded{Data: buf.Bytes(), MIME: "image/" + string(n.opts.Format)}, nil
}

// needsFlatten reports color modes that carry alpha or a palette.
func needsFlatten(img image.Image) bool {
	switch img.(type) {
	case *image.Paletted, *image.NRGBA, *image.RGBA, *image.NRGBA64, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(-b.Min.X, -b.Min.Y), 1.0)
}
