package render

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	imagepkg "github.com/youruser/certbatch/internal/image"
)

// ErrUnembeddableAsset is returned for an <image> whose href is not an inline raster data URI.
var ErrUnembeddableAsset = errors.New("image reference cannot be embedded")

const maxCanvasPixels = 64 << 20

// SVGRasterizer renders SVG in-process. Shapes go through oksvg, while
// <image> and <text> elements are composited on top in document order.
type SVGRasterizer struct{}

func (SVGRasterizer) Rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := parseTree(svg)
	if err != nil {
		return nil, err
	}
	vp, err := viewportOf(root)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, vp.width, vp.height))
	if err := drawShapes(canvas, svg, vp); err != nil {
		return nil, err
	}

	tr := &textRenderer{faces: make(map[faceKey]font.Face)}
	defer tr.close()
	p := &painter{ctx: ctx, dst: canvas, text: tr}
	if err := p.walk(root, vp.transform(), defaultStyle().inherit(root)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type node struct {
	name     string
	attrs    map[string]string
	children []*node
	text     string
}

func (n *node) isText() bool { return n.name == "" }

func parseTree(svg []byte) (*node, error) {
	d := xml.NewDecoder(bytes.NewReader(svg))
	d.Entity = xml.HTMLEntity
	var root *node
	var stack []*node
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse svg: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("parse svg: multiple root elements")
				}
				root = n
			} else {
				top := stack[len(stack)-1]
				top.children = append(top.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.children = append(top.children, &node{text: string(t)})
			}
		}
	}
	if root == nil || root.name != "svg" {
		return nil, errors.New("parse svg: root element is not <svg>")
	}
	return root, nil
}

type viewport struct {
	width, height int
	vbX, vbY      float64
	vbW, vbH      float64
}

func viewportOf(root *node) (viewport, error) {
	var vp viewport
	if vb := numbers(root.attrs["viewBox"]); len(vb) == 4 && vb[2] > 0 && vb[3] > 0 {
		vp.vbX, vp.vbY, vp.vbW, vp.vbH = vb[0], vb[1], vb[2], vb[3]
	}
	w, wok := parseLength(root.attrs["width"])
	h, hok := parseLength(root.attrs["height"])
	switch {
	case wok && hok:
	case vp.vbW > 0 && wok:
		h = w * vp.vbH / vp.vbW
	case vp.vbW > 0 && hok:
		w = h * vp.vbW / vp.vbH
	case vp.vbW > 0:
		w, h = vp.vbW, vp.vbH
	default:
		return vp, errors.New("svg has neither a size nor a viewBox")
	}
	if vp.vbW == 0 {
		vp.vbW, vp.vbH = w, h
	}
	vp.width, vp.height = int(math.Ceil(w)), int(math.Ceil(h))
	if vp.width <= 0 || vp.height <= 0 || vp.width*vp.height > maxCanvasPixels {
		return vp, fmt.Errorf("svg canvas %dx%d out of range", vp.width, vp.height)
	}
	return vp, nil
}

func (vp viewport) transform() affine {
	sx := float64(vp.width) / vp.vbW
	sy := float64(vp.height) / vp.vbH
	return affine{sx: sx, sy: sy, tx: -vp.vbX * sx, ty: -vp.vbY * sy}
}

func drawShapes(canvas *image.RGBA, svg []byte, vp viewport) error {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return fmt.Errorf("parse svg shapes: %w", err)
	}
	if icon.ViewBox.W == 0 || icon.ViewBox.H == 0 {
		icon.ViewBox.X, icon.ViewBox.Y = vp.vbX, vp.vbY
		icon.ViewBox.W, icon.ViewBox.H = vp.vbW, vp.vbH
	}
	w, h := vp.width, vp.height
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return nil
}

// affine is the scale and translation part of an SVG transform.
type affine struct {
	sx, sy, tx, ty float64
}

func (m affine) apply(x, y float64) (float64, float64) {
	return x*m.sx + m.tx, y*m.sy + m.ty
}

// then returns m∘c: c is applied first.
func (m affine) then(c affine) affine {
	return affine{
		sx: m.sx * c.sx,
		sy: m.sy * c.sy,
		tx: m.sx*c.tx + m.tx,
		ty: m.sy*c.ty + m.ty,
	}
}

var (
	identity    = affine{sx: 1, sy: 1}
	transformRe = regexp.MustCompile(`(\w+)\s*\(([^)]*)\)`)
	numberRe    = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
)

// parseTransform understands translate, scale and matrix. Rotation and skew are ignored.
func parseTransform(s string) affine {
	m := identity
	for _, op := range transformRe.FindAllStringSubmatch(s, -1) {
		args := numbers(op[2])
		var c affine
		switch {
		case op[1] == "translate" && len(args) >= 1:
			c = affine{sx: 1, sy: 1, tx: args[0]}
			if len(args) > 1 {
				c.ty = args[1]
			}
		case op[1] == "scale" && len(args) >= 1:
			c = affine{sx: args[0], sy: args[0]}
			if len(args) > 1 {
				c.sy = args[1]
			}
		case op[1] == "matrix" && len(args) == 6:
			c = affine{sx: args[0], sy: args[3], tx: args[4], ty: args[5]}
		default:
			continue
		}
		m = m.then(c)
	}
	return m
}

func numbers(s string) []float64 {
	var out []float64
	for _, f := range numberRe.FindAllString(s, -1) {
		v, err := strconv.ParseFloat(f, 64)
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

var unitScale = map[string]float64{"": 1, "px": 1, "pt": 96.0 / 72, "pc": 16, "mm": 96 / 25.4, "cm": 96 / 2.54, "in": 96}

// parseLength converts an absolute SVG length to user units.
func parseLength(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	num := numberRe.FindString(s)
	if num == "" || !strings.HasPrefix(s, num) {
		return 0, false
	}
	scale, ok := unitScale[strings.TrimSpace(s[len(num):])]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v * scale, true
}

// firstLength reads the first entry of an x/y/dx/dy list. em is relative to fontSize.
func firstLength(s string, fontSize float64) (float64, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return 0, false
	}
	v := fields[0]
	if em, ok := strings.CutSuffix(v, "em"); ok {
		f, err := strconv.ParseFloat(em, 64)
		return f * fontSize, err == nil
	}
	return parseLength(v)
}

type style struct {
	fontSize float64
	fill     color.NRGBA
	noFill   bool
	bold     bool
	anchor   string
	opacity  float64
	hidden   bool
}

func defaultStyle() style {
	return style{fontSize: 16, fill: color.NRGBA{A: 255}, anchor: "start", opacity: 1}
}

// inherit applies n's presentation attributes and inline style over s.
func (s style) inherit(n *node) style {
	props := make(map[string]string)
	for _, k := range []string{"font-size", "fill", "font-weight", "text-anchor", "opacity", "fill-opacity", "display", "visibility"} {
		if v, ok := n.attrs[k]; ok {
			props[k] = v
		}
	}
	for _, decl := range strings.Split(n.attrs["style"], ";") {
		if k, v, ok := strings.Cut(decl, ":"); ok {
			props[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	out := s
	if v, ok := props["font-size"]; ok {
		switch {
		case strings.HasSuffix(v, "em"):
			if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "em"), 64); err == nil {
				out.fontSize = s.fontSize * f
			}
		case strings.HasSuffix(v, "%"):
			if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
				out.fontSize = s.fontSize * f / 100
			}
		default:
			if f, ok := parseLength(v); ok {
				out.fontSize = f
			}
		}
	}
	if v, ok := props["fill"]; ok {
		if v == "none" {
			out.noFill = true
		} else if c, ok := parseColor(v); ok {
			out.fill, out.noFill = c, false
		}
	}
	if v, ok := props["font-weight"]; ok {
		switch v {
		case "bold", "bolder":
			out.bold = true
		case "normal", "lighter":
			out.bold = false
		default:
			if w, err := strconv.Atoi(v); err == nil {
				out.bold = w >= 600
			}
		}
	}
	if v, ok := props["text-anchor"]; ok {
		out.anchor = v
	}
	for _, k := range []string{"opacity", "fill-opacity"} {
		if v, ok := props[k]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out.opacity *= math.Max(0, math.Min(1, f))
			}
		}
	}
	if props["display"] == "none" || props["visibility"] == "hidden" {
		out.hidden = true
	}
	return out
}

// parseColor resolves a paint value the same way the shape renderer does.
func parseColor(s string) (color.NRGBA, bool) {
	c, err := oksvg.ParseSVGColor(strings.TrimSpace(s))
	if err != nil || c == nil {
		return color.NRGBA{}, false
	}
	return color.NRGBAModel.Convert(c).(color.NRGBA), true
}

// Subtrees that are referenced rather than painted.
var unpainted = map[string]bool{
	"defs": true, "clipPath": true, "mask": true, "symbol": true, "pattern": true,
	"marker": true, "style": true, "title": true, "desc": true, "metadata": true,
}

type painter struct {
	ctx  context.Context
	dst  draw.Image
	text *textRenderer
}

func (p *painter) walk(n *node, m affine, st style) error {
	for _, c := range n.children {
		if c.isText() || unpainted[c.name] {
			continue
		}
		cs := st.inherit(c)
		if cs.hidden {
			continue
		}
		cm := m.then(parseTransform(c.attrs["transform"]))
		var err error
		switch c.name {
		case "g", "a", "switch":
			err = p.walk(c, cm, cs)
		case "image":
			err = p.image(c, cm, cs)
		case "text":
			pen := point{}
			err = p.textRun(c, cm, cs, &pen)
		}
		if err != nil {
			return err
		}
	}
	return p.ctx.Err()
}

func (p *painter) image(n *node, m affine, st style) error {
	href := strings.TrimSpace(n.attrs["href"])
	if href == "" {
		return nil
	}
	mime, data, err := imagepkg.ParseDataURI(href)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnembeddableAsset, err)
	}
	if mime == "image/svg+xml" {
		return fmt.Errorf("%w: nested svg", ErrUnembeddableAsset)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnembeddableAsset, err)
	}

	x, _ := parseLength(n.attrs["x"])
	y, _ := parseLength(n.attrs["y"])
	w, wok := parseLength(n.attrs["width"])
	h, hok := parseLength(n.attrs["height"])
	if !wok {
		w = float64(img.Bounds().Dx())
	}
	if !hok {
		h = float64(img.Bounds().Dy())
	}
	if st.opacity < 1 {
		img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			c.A = uint8(float64(c.A) * st.opacity)
			return c
		})
	}

	fit := imagepkg.FitMeet
	switch par := n.attrs["preserveAspectRatio"]; {
	case strings.HasPrefix(par, "none"):
		fit = imagepkg.FitStretch
	case strings.Contains(par, "slice"):
		fit = imagepkg.FitSlice
	}
	dx, dy := m.apply(x, y)
	imagepkg.PasteInto(p.dst, img,
		int(math.Round(dx)), int(math.Round(dy)),
		int(math.Round(w*m.sx)), int(math.Round(h*m.sy)), fit)
	return nil
}

type point struct{ x, y float64 }

// textRun lays out a <text> or <tspan> and its descendants. pen is in user units.
func (p *painter) textRun(n *node, m affine, st style, pen *point) error {
	if v, ok := firstLength(n.attrs["x"], st.fontSize); ok {
		pen.x = v
	}
	if v, ok := firstLength(n.attrs["y"], st.fontSize); ok {
		pen.y = v
	}
	if v, ok := firstLength(n.attrs["dx"], st.fontSize); ok {
		pen.x += v
	}
	if v, ok := firstLength(n.attrs["dy"], st.fontSize); ok {
		pen.y += v
	}
	for _, c := range n.children {
		if c.isText() {
			s := strings.Join(strings.Fields(c.text), " ")
			if s == "" || st.noFill || st.hidden {
				continue
			}
			adv, err := p.text.draw(p.dst, s, m, st, *pen)
			if err != nil {
				return err
			}
			pen.x += adv
			continue
		}
		if c.name != "tspan" {
			continue
		}
		cs := st.inherit(c)
		if err := p.textRun(c, m, cs, pen); err != nil {
			return err
		}
	}
	return nil
}

var (
	fontsOnce sync.Once
	fontsErr  error
	regular   *opentype.Font
	bold      *opentype.Font
)

func loadFonts() error {
	fontsOnce.Do(func() {
		if regular, fontsErr = opentype.Parse(goregular.TTF); fontsErr != nil {
			return
		}
		bold, fontsErr = opentype.Parse(gobold.TTF)
	})
	return fontsErr
}

type faceKey struct {
	bold bool
	size float64
}

// textRenderer caches faces for one rasterization. Faces are not safe for
// concurrent use, so each call builds its own.
type textRenderer struct {
	faces map[faceKey]font.Face
}

func (t *textRenderer) face(k faceKey) (font.Face, error) {
	if f, ok := t.faces[k]; ok {
		return f, nil
	}
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	src := regular
	if k.bold {
		src = bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: k.size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("font face: %w", err)
	}
	t.faces[k] = f
	return f, nil
}

// draw paints s at pen and returns the advance in user units.
func (t *textRenderer) draw(dst draw.Image, s string, m affine, st style, pen point) (float64, error) {
	if m.sx == 0 || st.fontSize <= 0 {
		return 0, nil
	}
	face, err := t.face(faceKey{bold: st.bold, size: st.fontSize * m.sy})
	if err != nil {
		return 0, err
	}
	width := float64(font.MeasureString(face, s)) / 64
	x, y := m.apply(pen.x, pen.y)
	switch st.anchor {
	case "middle":
		x -= width / 2
	case "end":
		x -= width
	}
	c := st.fill
	c.A = uint8(float64(c.A) * st.opacity)
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: fixed.Int26_6(math.Round(y * 64))},
	}
	d.DrawString(s)
	return width / m.sx, nil
}

func (t *textRenderer) close() {
	for _, f := range t.faces {
		_ = f.Close()
	}
}
