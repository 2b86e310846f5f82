package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/batch"
	"github.com/youruser/certbatch/internal/bundle"
	"github.com/youruser/certbatch/internal/ingest"
	"github.com/youruser/certbatch/internal/photos"
	"github.com/youruser/certbatch/internal/publish"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/render"
	"github.com/youruser/certbatch/internal/runs"
	"github.com/youruser/certbatch/internal/util"
)

var (
	runDir     string
	dataPath   string
	photosZip  string
	photosDir  string
	packZip    bool
	packPDF    bool
	publishRun bool

	flagTemplate  string
	flagSignature string
	flagDomain    string
	flagWorkers   int
)

func addIngestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "Roster file: .csv, .tsv, .txt, .xlsx or .pdf (required)")
	cmd.Flags().StringVar(&photosZip, "photos-zip", "", "Zip archive of photos")
	cmd.Flags().StringVar(&photosDir, "photos-dir", "", "Folder of photos")
	_ = cmd.MarkFlagRequired("data")
}

func addRenderFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTemplate, "template", "", "SVG template (default from config)")
	cmd.Flags().StringVar(&flagSignature, "signature", "", "Signature image (default from config)")
	cmd.Flags().StringVar(&flagDomain, "domain", "", "Verification URL domain (default from config)")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "Concurrent renders (default from config)")
}

// applyRenderFlags copies explicitly set flags over the loaded config.
func applyRenderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("template") {
		cfg.Render.Template = flagTemplate
	}
	if f.Changed("signature") {
		cfg.Render.Signature = flagSignature
	}
	if f.Changed("domain") {
		cfg.Render.Domain = flagDomain
	}
	if f.Changed("workers") && flagWorkers > 0 {
		cfg.Render.Workers = flagWorkers
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Read a roster, resolve photos and write records.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		d, err := openOrCreateRun(runDir)
		if err != nil {
			return err
		}
		recs, stats, err := ingestInto(ctx, d)
		if err != nil {
			return err
		}
		cmd.Printf("run %s: %d records (photos: %d by identifier, %d by name, %d remote, %d missing)\n",
			d.Path, len(recs), stats.Identifier, stats.Name, stats.Remote, stats.Missing)
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render certificates for the records of a run directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRenderFlags(cmd)
		d := &runs.Dir{ID: filepath.Base(runDir), Path: runDir}
		recs, err := batch.ReadRecords(d.RecordsPath())
		if err != nil {
			return err
		}
		res, err := renderRun(cmd.Context(), d, recs)
		if err != nil {
			return err
		}
		printResult(cmd, d, res)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest, render and package in one step",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRenderFlags(cmd)
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := openOrCreateRun(runDir)
		if err != nil {
			return err
		}
		recs, _, err := ingestInto(ctx, d)
		if err != nil {
			return err
		}
		res, err := renderRun(ctx, d, recs)
		if err != nil {
			return err
		}
		printResult(cmd, d, res)
		if res.Succeeded == 0 {
			return nil
		}

		if packPDF {
			if err := bundle.PDF(d.CertificatesDir(), d.File("certificates.pdf")); err != nil {
				return err
			}
			cmd.Printf("pdf: %s\n", d.File("certificates.pdf"))
		}
		if packZip || publishRun {
			if err := bundle.Zip(d.CertificatesDir(), d.File("certificates.zip")); err != nil {
				return err
			}
			cmd.Printf("zip: %s\n", d.File("certificates.zip"))
		}
		if publishRun {
			return publishArchive(ctx, cmd, d)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove run directories older than runs.ttl",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := runs.NewStore(cfg.Runs.Root, cfg.Runs.TTL, logger)
		if err != nil {
			return err
		}
		n, err := store.Sweep(time.Now())
		cmd.Printf("removed %d run(s)\n", n)
		return err
	},
}

func openOrCreateRun(dir string) (*runs.Dir, error) {
	if dir != "" {
		if err := util.EnsureDir(filepath.Join(dir, "certificates")); err != nil {
			return nil, err
		}
		return &runs.Dir{ID: filepath.Base(dir), Path: dir}, nil
	}
	store, err := runs.NewStore(cfg.Runs.Root, cfg.Runs.TTL, logger)
	if err != nil {
		return nil, err
	}
	return store.Create()
}

func ingestInto(ctx context.Context, d *runs.Dir) ([]record.Resolved, photos.Stats, error) {
	svc, err := ingest.NewService(cfg.Photo, logger)
	if err != nil {
		return nil, photos.Stats{}, err
	}
	recs, stats, err := svc.Ingest(ctx, ingest.Input{DataPath: dataPath, PhotosZip: photosZip, PhotosDir: photosDir})
	if err != nil {
		return nil, stats, err
	}
	if err := batch.WriteRecords(d.RecordsPath(), recs); err != nil {
		return nil, stats, err
	}
	meta := runs.Meta{Total: len(recs), Status: batch.StatusQueued, Timestamp: time.Now().Unix()}
	return recs, stats, d.WriteMeta(meta)
}

func renderRun(ctx context.Context, d *runs.Dir, recs []record.Resolved) (batch.Result, error) {
	r, err := render.NewFromConfig(cfg.Render)
	if err != nil {
		return batch.Result{}, err
	}
	orch := &batch.Orchestrator{Renderer: r, Workers: cfg.Render.Workers, Logger: logger}
	run := orch.Submit(ctx, d.ID, d.CertificatesDir(), recs)
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
		logger.Warn("Failed to persist run metadata.", zap.Error(werr))
	}
	return res, err
}

func publishArchive(ctx context.Context, cmd *cobra.Command, d *runs.Dir) error {
	if cfg.Storage.Bucket == "" {
		return errors.New("--publish needs storage.bucket (or CERTBATCH_BUCKET)")
	}
	gcs, err := publish.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix, logger)
	if err != nil {
		return err
	}
	defer gcs.Close()
	archive := d.File("certificates.zip")
	url, err := gcs.Upload(ctx, archive, gcs.ObjectName(d.ID, archive))
	if err != nil {
		return err
	}
	cmd.Printf("published: %s\n", url)
	return nil
}

func printResult(cmd *cobra.Command, d *runs.Dir, res batch.Result) {
	cmd.Printf("rendered %d/%d certificates into %s (%d failed, %s)\n",
		res.Succeeded, res.Total, d.CertificatesDir(), res.Failed, res.Elapsed.Round(time.Millisecond))
}
