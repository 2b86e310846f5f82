// Package runs manages per-run working directories and their time-based cleanup.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/batch"
	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/util"
)

// ErrNotFound is returned for unknown or malformed run ids.
var ErrNotFound = errors.New("run not found")

const (
	metaFile        = "run.json"
	certificatesDir = "certificates"
)

// Meta is the persisted summary of a run.
type Meta struct {
	ID        string       `json:"run_id"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Status    batch.Status `json:"status"`
	Timestamp int64        `json:"timestamp"` // unix seconds
	Error     string       `json:"error,omitempty"`
}

// Dir is one run's working directory.
type Dir struct {
	ID   string
	Path string
}

func (d *Dir) CertificatesDir() string { return filepath.Join(d.Path, certificatesDir) }
func (d *Dir) RecordsPath() string     { return filepath.Join(d.Path, batch.RecordsFile) }

// File returns a path inside the run directory for a client-supplied name.
func (d *Dir) File(name string) string {
	return filepath.Join(d.Path, filepath.Base(filepath.Clean("/"+name)))
}

func (d *Dir) WriteMeta(m Meta) error {
	m.ID = d.ID
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath.Join(d.Path, metaFile), b)
}

func (d *Dir) ReadMeta() (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(d.Path, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s has no metadata", ErrNotFound, d.ID)
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode run metadata: %w", err)
	}
	return m, nil
}

// Store owns the run directories below Root.
type Store struct {
	root   string
	ttl    time.Duration
	logger *zap.Logger
}

func NewStore(root string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}
	return &Store{root: root, ttl: ttl, logger: logging.OrNop(logger)}, nil
}

// Create allocates a fresh run directory.
func (s *Store) Create() (*Dir, error) {
	id := uuid.NewString()
	d := &Dir{ID: id, Path: filepath.Join(s.root, id)}
	if err := util.EnsureDir(d.CertificatesDir()); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return d, nil
}

// Open returns an existing run directory. Ids must be UUIDs.
func (s *Store) Open(id string) (*Dir, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	d := &Dir{ID: id, Path: filepath.Join(s.root, id)}
	fi, err := os.Stat(d.Path)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// lastActivity is the newest mtime of a run directory, its metadata and its
// certificates directory. Rendering only touches the latter two.
func lastActivity(dir string, info os.FileInfo) time.Time {
	latest := info.ModTime()
	for _, name := range []string{metaFile, certificatesDir} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}

// Sweep removes run directories with no activity since now minus the TTL.
func (s *Store) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-s.ttl)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		info, err := e.Info()
		if err != nil || !lastActivity(dir, info).Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Expired runs removed.", zap.Int("removed", removed))
	}
	return removed, errors.Join(errs...)
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.Sweep(now); err != nil {
				s.logger.Warn("Run sweep incomplete.", zap.Error(err))
			}
		}
	}
}
