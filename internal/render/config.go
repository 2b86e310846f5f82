package render

import (
	"github.com/youruser/certbatch/internal/config"
	"github.com/youruser/certbatch/internal/verify"
)

// NewFromConfig loads the template and signature named by cfg and selects its rasterizer.
func NewFromConfig(cfg config.RenderConfig) (*Renderer, error) {
	tmpl, err := LoadTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	sig, err := LoadAsset(cfg.Signature)
	if err != nil {
		return nil, err
	}
	raster, err := NewRasterizer(cfg.Rasterizer, cfg.Command)
	if err != nil {
		return nil, err
	}
	return New(Options{
		Template:    tmpl,
		Signature:   sig,
		Verifier:    &verify.Encoder{Domain: cfg.Domain, Prefix: cfg.CertPrefix, QRSize: cfg.QRSize},
		Rasterizer:  raster,
		BadgeX:      cfg.BadgeX,
		DefaultDate: cfg.DefaultDate,
	})
}
