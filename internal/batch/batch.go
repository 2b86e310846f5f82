// Package batch fans certificate rendering out over a bounded worker pool and
// tracks per-run progress.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/util"
)

const progressEvery = 10

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// JobRenderer renders one certificate.
type JobRenderer interface {
	Render(ctx context.Context, res record.Resolved) ([]byte, error)
}

// Progress is a point-in-time snapshot of a run. Completed counts attempted
// jobs, successful or not, and never decreases.
type Progress struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Status    Status `json:"status"`
}

// Result summarizes a settled run.
type Result struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Files     []string      `json:"files"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Orchestrator runs render jobs. Workers bounds concurrent renders.
type Orchestrator struct {
	Renderer JobRenderer
	Workers  int
	Logger   *zap.Logger
}

// Run is a batch in flight.
type Run struct {
	id    string
	dir   string
	total int

	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu     sync.Mutex
	status Status
	result Result
	err    error
	done   chan struct{}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Dir is where certificates are written.
func (r *Run) Dir() string { return r.dir }

// Done is closed once every job has settled.
func (r *Run) Done() <-chan struct{} { return r.done }

// Progress returns a snapshot that is safe to poll from any goroutine.
func (r *Run) Progress() Progress {
	// status first: once it reads done, the counters below are final
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	return Progress{
		RunID:     r.id,
		Total:     r.total,
		Completed: int(r.completed.Load()),
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
		Status:    status,
	}
}

// Wait blocks until the run settles.
func (r *Run) Wait() (Result, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Run) finish(res Result, err error) {
	r.mu.Lock()
	r.result, r.err = res, err
	if err != nil {
		r.status = StatusFailed
	} else {
		r.status = StatusDone
	}
	r.mu.Unlock()
	close(r.done)
}

// Submit starts rendering jobs into outDir and returns immediately.
func (o *Orchestrator) Submit(ctx context.Context, runID, outDir string, jobs []record.Resolved) *Run {
	run := &Run{id: runID, dir: outDir, total: len(jobs), status: StatusQueued, done: make(chan struct{})}
	go o.execute(ctx, run, jobs)
	return run
}

// Execute renders jobs into outDir and waits for them to settle.
func (o *Orchestrator) Execute(ctx context.Context, runID, outDir string, jobs []record.Resolved) (Result, error) {
	return o.Submit(ctx, runID, outDir, jobs).Wait()
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, jobs []record.Resolved) {
	start := time.Now()
	log := logging.OrNop(o.Logger).With(zap.String("run_id", run.id))

	if err := util.EnsureDir(run.dir); err != nil {
		log.Error("Cannot create output directory.", zap.String("dir", run.dir), zap.Error(err))
		run.finish(Result{Total: run.total}, fmt.Errorf("create output dir: %w", err))
		return
	}
	run.setStatus(StatusProcessing)
	log.Info("Batch started.", zap.Int("total", run.total), zap.Int("workers", o.workers()))

	files := make([]string, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.workers())
	for i, job := range jobs {
		g.Go(func() error {
			name, err := o.renderOne(ctx, run.dir, job)
			if err != nil {
				run.failed.Add(1)
				log.Warn("Render failed, skipping record.",
					zap.String("name", job.Record.Name),
					zap.String("roll", job.Record.Identifier),
					zap.Error(err))
			} else {
				files[i] = name
				run.succeeded.Add(1)
			}
			if n := run.completed.Add(1); n%progressEvery == 0 {
				log.Info("Batch progress.", zap.Int64("completed", n), zap.Int("total", run.total))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Total:     run.total,
		Succeeded: int(run.succeeded.Load()),
		Failed:    int(run.failed.Load()),
		Files:     uniqueSorted(files),
		Elapsed:   time.Since(start),
	}
	log.Info("Batch finished.",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed))
	run.finish(res, nil)
}

// renderOne is the isolation boundary of a job: errors and panics stay here.
func (o *Orchestrator) renderOne(ctx context.Context, dir string, job record.Resolved) (name string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render panicked: %v", p)
		}
	}()
	png, err := o.Renderer.Render(ctx, job)
	if err != nil {
		return "", err
	}
	name = SafeFilename(job.Record)
	if err := util.WriteFileAtomic(filepath.Join(dir, name), png); err != nil {
		return "", fmt.Errorf("write certificate: %w", err)
	}
	return name, nil
}

func (o *Orchestrator) workers() int {
	if o.Workers <= 0 {
		return 1
	}
	return o.Workers
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// SafeFilename names a certificate <identifier>_<name>.png with every
// character outside [A-Za-z0-9_-] replaced by an underscore.
func SafeFilename(r record.Record) string {
	r = record.Canonical(r)
	return unsafeChars.ReplaceAllString(r.Identifier, "_") + "_" + unsafeChars.ReplaceAllString(r.Name, "_") + ".png"
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
