package photos

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/record"
)

// Fetcher retrieves remote photo bytes for an extracted file identifier.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

// Resolver pairs records with photos. It only reads the pool.
type Resolver struct {
	Pool       *Pool
	Normalizer *imagepkg.Normalizer
	// Fetcher is optional; nil disables remote resolution.
	Fetcher Fetcher
	Workers int
	Timeout time.Duration
	Logger  *zap.Logger
}

// Stats summarizes one Resolve call.
type Stats struct {
	Identifier, Name, Remote, Missing int
}

// Resolve returns one Resolved per record, in input order. Pool matches are
// settled before any network request starts; remote lookups then run on a
// bounded pool, each with its own timeout. A missing photo is not an error.
func (r *Resolver) Resolve(ctx context.Context, recs []record.Record) ([]record.Resolved, Stats) {
	log := logging.OrNop(r.Logger)
	out := make([]record.Resolved, len(recs))
	var pending []int

	for i, rec := range recs {
		out[i].Record = rec
		if photo, src := r.resolveLocal(rec, log); photo != nil {
			out[i].Photo, out[i].Source = photo, src
			continue
		}
		if r.Fetcher != nil && remoteID(rec) != "" {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		r.resolveRemote(ctx, out, pending, log)
	}

	var st Stats
	for _, res := range out {
		switch res.Source {
		case record.MatchIdentifier:
			st.Identifier++
		case record.MatchName:
			st.Name++
		case record.MatchRemote:
			st.Remote++
		default:
			st.Missing++
		}
	}
	log.Info("Photo resolution complete.",
		zap.Int("records", len(recs)),
		zap.Int("by_identifier", st.Identifier),
		zap.Int("by_name", st.Name),
		zap.Int("remote", st.Remote),
		zap.Int("missing", st.Missing))
	return out, st
}

// Match finds the first pool asset for rec: identifier substring of the file
// stem first, then cleaned-name substring. Undecodable assets are skipped.
func (r *Resolver) Match(rec record.Record) (*Asset, record.MatchSource) {
	var found *Asset
	if rec.HasIdentifier() {
		id := strings.ToUpper(rec.Identifier)
		r.Pool.Each(func(a *Asset) bool {
			if a.DecodedOK && strings.Contains(a.Stem(), id) {
				found = a
				return false
			}
			return true
		})
		if found != nil {
			return found, record.MatchIdentifier
		}
	}

	name := alnum(rec.Name)
	if len(name) > 3 {
		r.Pool.Each(func(a *Asset) bool {
			if a.DecodedOK && strings.Contains(alnum(a.Stem()), name) {
				found = a
				return false
			}
			return true
		})
		if found != nil {
			return found, record.MatchName
		}
	}
	return nil, record.MatchNone
}

func (r *Resolver) resolveLocal(rec record.Record, log *zap.Logger) (*imagepkg.Encoded, record.MatchSource) {
	a, src := r.Match(rec)
	if a == nil {
		return nil, record.MatchNone
	}
	photo, err := r.normalizer().Normalize(a.Bytes)
	if err != nil {
		log.Warn("Matched photo is unusable.", zap.String("key", rec.Key()), zap.String("asset", a.SourceKey), zap.Error(err))
		return nil, record.MatchNone
	}
	return photo, src
}

func (r *Resolver) resolveRemote(ctx context.Context, out []record.Resolved, pending []int, log *zap.Logger) {
	workers := r.Workers
	if workers <= 0 {
		workers = 16
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, i := range pending {
		g.Go(func() error {
			rec := out[i].Record
			fetchCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			b, err := r.Fetcher.Fetch(fetchCtx, remoteID(rec))
			if err != nil {
				failed.Add(1)
				log.Debug("Remote photo unavailable.", zap.String("key", rec.Key()), zap.Error(err))
				return nil
			}
			photo, err := r.normalizer().Normalize(b)
			if err != nil {
				failed.Add(1)
				log.Debug("Remote photo unusable.", zap.String("key", rec.Key()), zap.Error(err))
				return nil
			}
			// each task writes only its own slot
			out[i].Photo, out[i].Source = photo, record.MatchRemote
			return nil
		})
	}
	_ = g.Wait()
	log.Info("Remote photo lookups finished.", zap.Int("attempted", len(pending)), zap.Int64("failed", failed.Load()))
}

func (r *Resolver) normalizer() *imagepkg.Normalizer {
	if r.Normalizer == nil {
		return imagepkg.NewNormalizer(imagepkg.NormalizeOptions{})
	}
	return r.Normalizer
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

func alnum(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToUpper(s), "")
}

func remoteID(rec record.Record) string {
	if !IsURL(rec.Image) {
		return ""
	}
	id, _ := ExtractFileID(rec.Image)
	return id
}
