// Package ingest turns an uploaded data file and photo sources into
// render-ready records.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/config"
	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/photos"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/schema"
	"github.com/youruser/certbatch/internal/tabular"
	"github.com/youruser/certbatch/internal/util"
)

// Input names the sources of one ingestion. Photo sources are optional.
type Input struct {
	DataPath  string
	PhotosZip string
	PhotosDir string
}

// Service wires tabular reading, schema normalization and photo resolution.
type Service struct {
	Schema   schema.Normalizer
	Loader   photos.Loader
	Resolver photos.Resolver
	Logger   *zap.Logger
}

// NewService builds a Service from photo configuration. Remote links are
// fetched from cfg.DriveBaseURL.
func NewService(cfg config.PhotoConfig, logger *zap.Logger) (*Service, error) {
	format, err := imagepkg.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)
	return &Service{
		Loader: photos.Loader{MaxBytes: cfg.MaxBytes, Logger: logger},
		Resolver: photos.Resolver{
			Normalizer: imagepkg.NewNormalizer(imagepkg.NormalizeOptions{
				MaxWidth:    cfg.MaxWidth,
				Format:      format,
				JPEGQuality: cfg.JPEGQuality,
			}),
			Fetcher: &photos.DriveFetcher{
				Client:   util.NewHTTPClient(cfg.FetchTimeout),
				BaseURL:  cfg.DriveBaseURL,
				MaxBytes: cfg.MaxBytes,
			},
			Workers: cfg.FetchWorkers,
			Timeout: cfg.FetchTimeout,
			Logger:  logger,
		},
		Logger: logger,
	}, nil
}

// Ingest reads, normalizes and resolves. Read and extraction failures are
// returned before any photo work starts; missing photos are not errors.
func (s *Service) Ingest(ctx context.Context, in Input) ([]record.Resolved, photos.Stats, error) {
	log := logging.OrNop(s.Logger)

	table, err := tabular.Read(in.DataPath)
	if err != nil {
		return nil, photos.Stats{}, fmt.Errorf("read %s: %w", in.DataPath, err)
	}
	recs := s.Schema.Normalize(table)
	if len(recs) == 0 {
		return nil, photos.Stats{}, fmt.Errorf("read %s: %w", in.DataPath, tabular.ErrNoTabularData)
	}
	log.Info("Records ingested.", zap.String("file", in.DataPath), zap.Int("records", len(recs)), zap.Bool("positional", table.Positional))

	pool, err := s.Loader.Load(in.PhotosZip, in.PhotosDir)
	if err != nil {
		return nil, photos.Stats{}, fmt.Errorf("load photos: %w", err)
	}
	resolver := s.Resolver
	resolver.Pool = pool
	out, stats := resolver.Resolve(ctx, recs)
	return out, stats, nil
}
