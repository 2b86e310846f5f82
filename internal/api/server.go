package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/batch"
	"github.com/youruser/certbatch/internal/bundle"
	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/ingest"
	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/runs"
)

// Publisher uploads a packaged run artifact.
type Publisher interface {
	ObjectName(runID, file string) string
	Upload(ctx context.Context, localPath, object string) (string, error)
}

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	Store      *runs.Store
	Ingest     *ingest.Service
	Batch      *batch.Orchestrator
	Renderer   batch.JobRenderer
	Normalizer *imagepkg.Normalizer
	// Publisher is optional; when set, finished runs are zipped and uploaded.
	Publisher Publisher
	Logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*batch.Run
	wg     sync.WaitGroup
}

func (s *Server) log() *zap.Logger { return logging.OrNop(s.Logger) }

func (s *Server) activeRun(id string) (*batch.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.active[id]
	return r, ok
}

// track keeps a submitted run pollable and persists its outcome once it settles.
func (s *Server) track(d *runs.Dir, run *batch.Run) {
	s.mu.Lock()
	if s.active == nil {
		s.active = make(map[string]*batch.Run)
	}
	s.active[d.ID] = run
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := s.log().With(zap.String("run_id", d.ID))
		res, err := run.Wait()
		meta := runs.Meta{
			Total:     res.Total,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Status:    run.Progress().Status,
			Timestamp: time.Now().Unix(),
		}
		if err != nil {
			meta.Error = err.Error()
		}
		if werr := d.WriteMeta(meta); werr != nil {
			log.Error("Failed to persist run metadata.", zap.Error(werr))
		}
		if err == nil && res.Succeeded > 0 && s.Publisher != nil {
			s.publish(d, log)
		}

		s.mu.Lock()
		delete(s.active, d.ID)
		s.mu.Unlock()
	}()
}

func (s *Server) publish(d *runs.Dir, log *zap.Logger) {
	archive := d.File("certificates.zip")
	if err := bundle.Zip(d.CertificatesDir(), archive); err != nil {
		log.Error("Failed to package run for publishing.", zap.Error(err))
		return
	}
	url, err := s.Publisher.Upload(context.Background(), archive, s.Publisher.ObjectName(d.ID, archive))
	if err != nil {
		log.Error("Failed to publish run archive.", zap.Error(err))
		return
	}
	log.Info("Run archive published.", zap.String("url", url))
}

// Wait blocks until every tracked run has settled and been persisted.
func (s *Server) Wait() {
	s.wg.Wait()
}
