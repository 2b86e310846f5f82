package imagepkg

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// Fit modes follow SVG preserveAspectRatio: meet keeps the whole image inside
// the box, slice covers the box and crops, stretch ignores the aspect ratio.
type Fit int

const (
	FitMeet Fit = iota
	FitSlice
	FitStretch
)

// PasteInto scales src to the w×h box at (x, y) and composites it over dst.
func PasteInto(dst draw.Image, src image.Image, x, y, w, h int, fit Fit) {
	if w <= 0 || h <= 0 {
		return
	}
	var scaled *image.NRGBA
	switch fit {
	case FitSlice:
		scaled = imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	case FitStretch:
		scaled = imaging.Resize(src, w, h, imaging.Lanczos)
	default:
		scaled = imaging.Fit(src, w, h, imaging.Lanczos)
		// center the letterboxed image in its box
		x += (w - scaled.Bounds().Dx()) / 2
		y += (h - scaled.Bounds().Dy()) / 2
	}
	r := scaled.Bounds().Add(image.Pt(x, y))
	draw.Draw(dst, r, scaled, scaled.Bounds().Min, draw.Over)
}
