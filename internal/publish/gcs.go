// Package publish uploads packaged run artifacts to Cloud Storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/youruser/certbatch/internal/logging"
)

const (
	maxRetries   = 4
	writeTimeout = 50 * time.Second
)

// GCS uploads files into one bucket under a fixed prefix.
type GCS struct {
	client  *storage.Client
	bucket  string
	prefix  string
	logger  *zap.Logger
	backoff time.Duration
}

// NewGCS connects with application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("publish: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix, logger: logging.OrNop(logger), backoff: time.Second}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

// ObjectName places file under the prefix and run id.
func (g *GCS) ObjectName(runID, file string) string {
	return objectName(g.prefix, runID, file)
}

func objectName(prefix, runID, file string) string {
	return path.Join(prefix, runID, path.Base(file))
}

// Upload copies localPath to object and returns its gs:// URL. An object that
// already exists counts as uploaded.
func (g *GCS) Upload(ctx context.Context, localPath, object string) (string, error) {
	url := "gs://" + g.bucket + "/" + object
	err := retry(ctx, maxRetries, g.backoff, g.logger.With(zap.String("gcsObject", object)), func() error {
		return g.write(ctx, localPath, object)
	})
	if err != nil {
		return "", fmt.Errorf("upload for %s failed after all retries: %w", object, err)
	}
	return url, nil
}

func (g *GCS) write(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return permanent{fmt.Errorf("could not open local file %s: %w", localPath, err)}
	}
	defer f.Close()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	w := g.client.Bucket(g.bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			return nil
		}
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			g.logger.Info("Object already exists, skipping.", zap.String("gcsObject", object))
			return nil
		}
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// retry runs fn up to attempts times, doubling the wait between attempts.
func retry(ctx context.Context, attempts int, backoff time.Duration, log *zap.Logger, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		log.Warn("Upload failed, will retry.",
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			log.Error("Context cancelled during backoff. Aborting retries.", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}
	log.Error("Upload failed after all retries.", zap.Error(lastErr))
	return lastErr
}
