// Package render fills the certificate template and rasterizes it.
package render

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/layout"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/util"
	"github.com/youruser/certbatch/internal/verify"
)

const maxAssetBytes = 16 << 20

// Options are the inputs shared by every job of a batch.
type Options struct {
	Template    *Template
	Signature   *imagepkg.Encoded
	Verifier    *verify.Encoder
	Rasterizer  Rasterizer
	BadgeX      float64
	DefaultDate string
}

// Renderer turns resolved records into certificate PNGs. It holds no mutable
// state and may be shared across goroutines when its Rasterizer can.
type Renderer struct {
	opts Options
}

func New(opts Options) (*Renderer, error) {
	if opts.Template == nil {
		return nil, errors.New("renderer needs a template")
	}
	if opts.Verifier == nil {
		return nil, errors.New("renderer needs a verification encoder")
	}
	if opts.Rasterizer == nil {
		opts.Rasterizer = SVGRasterizer{}
	}
	return &Renderer{opts: opts}, nil
}

// LoadTemplate reads an SVG template and checks its required placeholders.
func LoadTemplate(path string) (*Template, error) {
	b, err := util.ReadFileLimited(path, maxAssetBytes)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := ParseTemplate(string(b), RequiredPlaceholders...)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return t, nil
}

// LoadAsset reads an image file as-is for embedding.
func LoadAsset(path string) (*imagepkg.Encoded, error) {
	b, err := util.ReadFileLimited(path, maxAssetBytes)
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	mime := http.DetectContentType(b)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnembeddableAsset, path, mime)
	}
	return &imagepkg.Encoded{Data: b, MIME: mime}, nil
}

// Values computes every placeholder value for one record. Text values are
// XML-escaped; image values are data URIs, empty when absent.
func (r *Renderer) Values(res record.Resolved) (map[string]string, error) {
	rec := record.Canonical(res.Record)
	date := rec.Date
	if date == "" {
		date = r.opts.DefaultDate
	}
	v, err := r.opts.Verifier.Build(rec.Name, rec.Identifier, date)
	if err != nil {
		return nil, err
	}
	badge := layout.Badge(rec.Name)

	return map[string]string{
		KeyName:             escape(rec.Name),
		KeyRoll:             escape(rec.Identifier),
		KeyDate:             escape(date),
		KeyCertID:           escape(v.CertificateID),
		KeyQR:               v.QRDataURI(),
		KeyPhoto:            res.Photo.DataURI(),
		KeySignature:        r.opts.Signature.DataURI(),
		KeyBadgeContent:     badge.TSpans(r.opts.BadgeX),
		KeyBadgeFontSize:    strconv.Itoa(badge.FontSize),
		KeyHeadlineFontSize: strconv.Itoa(layout.HeadlineSize(rec.Name)),
	}, nil
}

// Compose returns the filled SVG document for one record.
func (r *Renderer) Compose(res record.Resolved) ([]byte, error) {
	values, err := r.Values(res)
	if err != nil {
		return nil, err
	}
	doc, err := r.opts.Template.Execute(values)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// Render composes and rasterizes one certificate.
func (r *Renderer) Render(ctx context.Context, res record.Resolved) ([]byte, error) {
	doc, err := r.Compose(res)
	if err != nil {
		return nil, err
	}
	png, err := r.opts.Rasterizer.Rasterize(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	return png, nil
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
