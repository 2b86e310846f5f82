// Package photos loads candidate photos and resolves them against records.
package photos

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/logging"
)

// Extensions lists the raster file extensions accepted into a pool.
var Extensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Asset is one raw photo held in memory.
type Asset struct {
	SourceKey string
	Bytes     []byte
	DecodedOK bool
}

// Stem returns the upper-cased basename without extension.
func (a *Asset) Stem() string {
	return strings.ToUpper(strings.TrimSuffix(a.SourceKey, path.Ext(a.SourceKey)))
}

// Pool is an immutable, basename-indexed set of assets. Iteration follows
// load order; a later asset with a colliding basename replaces the earlier
// one in place.
type Pool struct {
	assets []*Asset
	index  map[string]int
}

// NewPool builds a pool from assets in order.
func NewPool(assets ...Asset) *Pool {
	p := &Pool{index: make(map[string]int)}
	for _, a := range assets {
		p.add(a.SourceKey, a.Bytes)
	}
	return p
}

func (p *Pool) add(name string, b []byte) {
	key := path.Base(filepath.ToSlash(name))
	_, _, err := image.DecodeConfig(bytes.NewReader(b))
	a := &Asset{SourceKey: key, Bytes: b, DecodedOK: err == nil}
	lk := strings.ToLower(key)
	if i, ok := p.index[lk]; ok {
		p.assets[i] = a
		return
	}
	p.index[lk] = len(p.assets)
	p.assets = append(p.assets, a)
}

// Len returns the number of distinct basenames.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.assets)
}

// Lookup finds an asset by basename, ignoring case.
func (p *Pool) Lookup(name string) (*Asset, bool) {
	if p == nil {
		return nil, false
	}
	i, ok := p.index[strings.ToLower(path.Base(filepath.ToSlash(name)))]
	if !ok {
		return nil, false
	}
	return p.assets[i], true
}

// Each calls fn for every asset in pool order until fn returns false.
func (p *Pool) Each(fn func(*Asset) bool) {
	if p == nil {
		return
	}
	for _, a := range p.assets {
		if !fn(a) {
			return
		}
	}
}

// Loader reads photos from archives and folders.
type Loader struct {
	// MaxBytes skips entries larger than this; zero means no limit.
	MaxBytes int64
	Logger   *zap.Logger
}

// Load builds a pool from an optional zip archive and an optional folder.
// Archive entries come first, then folder entries sorted by name.
func (l Loader) Load(zipPath, dir string) (*Pool, error) {
	log := logging.OrNop(l.Logger)
	p := NewPool()
	if zipPath != "" {
		if err := l.loadZip(p, zipPath, log); err != nil {
			return nil, err
		}
	}
	if dir != "" {
		if err := l.loadDir(p, dir, log); err != nil {
			return nil, err
		}
	}
	log.Info("Photo pool loaded.", zap.Int("assets", p.Len()))
	return p, nil
}

func (l Loader) loadZip(p *Pool, zipPath string, log *zap.Logger) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening photo archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || !accepted(f.Name) {
			continue
		}
		if l.MaxBytes > 0 && f.UncompressedSize64 > uint64(l.MaxBytes) {
			log.Warn("Skipping oversized archive entry.", zap.String("entry", f.Name))
			continue
		}
		b, err := readEntry(f, l.MaxBytes)
		if err != nil {
			log.Warn("Skipping unreadable archive entry.", zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		p.add(f.Name, b)
	}
	return nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit > 0 {
		return io.ReadAll(io.LimitReader(rc, limit))
	}
	return io.ReadAll(rc)
}

func (l Loader) loadDir(p *Pool, dir string, log *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading photo folder: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !accepted(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
			log.Warn("Skipping oversized photo.", zap.String("file", e.Name()))
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn("Skipping unreadable photo.", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		p.add(e.Name(), b)
	}
	return nil
}

// accepted reports a raster extension on a name that is not hidden or a
// system artifact (dot files, __MACOSX resource forks).
func accepted(name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return false
		}
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
