package photos

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/record"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeZip(t *testing.T, entries map[string][]byte, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photos.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if b := entries[name]; b != nil {
			_, err = w.Write(b)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoader_Zip(t *testing.T) {
	red := pngBytes(t, color.RGBA{R: 255, A: 255})
	blue := pngBytes(t, color.RGBA{B: 255, A: 255})
	order := []string{
		"photos/",
		"photos/R007_photo.jpg",
		"photos/.hidden.png",
		"__MACOSX/photos/._R007_photo.jpg",
		"photos/notes.txt",
		"other/r007_PHOTO.JPG",
	}
	path := writeZip(t, map[string][]byte{
		"photos/R007_photo.jpg":            red,
		"photos/.hidden.png":               red,
		"__MACOSX/photos/._R007_photo.jpg": red,
		"photos/notes.txt":                 []byte("x"),
		"other/r007_PHOTO.JPG":             blue,
	}, order)

	p, err := Loader{}.Load(path, "")
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	a, ok := p.Lookup("R007_PHOTO.jpg")
	require.True(t, ok)
	assert.Equal(t, "r007_PHOTO.JPG", a.SourceKey)
	assert.Equal(t, blue, a.Bytes)
	assert.True(t, a.DecodedOK)
}

func TestLoader_DirAndLimits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, color.Black), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpeg"), []byte("corrupt"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.png"), make([]byte, 4096), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	p, err := Loader{MaxBytes: 1024}.Load("", dir)
	require.NoError(t, err)
	var keys []string
	p.Each(func(a *Asset) bool {
		keys = append(keys, a.SourceKey)
		return true
	})
	assert.Equal(t, []string{"a.jpeg", "b.png"}, keys)

	a, _ := p.Lookup("a.jpeg")
	assert.False(t, a.DecodedOK)
}

func TestLoader_MissingArchive(t *testing.T) {
	_, err := Loader{}.Load(filepath.Join(t.TempDir(), "nope.zip"), "")
	require.Error(t, err)
}

func newResolver(p *Pool, f Fetcher) *Resolver {
	return &Resolver{
		Pool:       p,
		Normalizer: imagepkg.NewNormalizer(imagepkg.NormalizeOptions{Format: imagepkg.FormatPNG}),
		Fetcher:    f,
		Workers:    8,
		Timeout:    2 * time.Second,
	}
}

func TestResolver_IdentifierBeatsName(t *testing.T) {
	byName := pngBytes(t, color.RGBA{G: 255, A: 255})
	byRoll := pngBytes(t, color.RGBA{R: 255, A: 255})
	p := NewPool(
		Asset{SourceKey: "anita_kumar.png", Bytes: byName},
		Asset{SourceKey: "R007_photo.jpg", Bytes: byRoll},
	)
	r := newResolver(p, nil)

	a, src := r.Match(record.Record{Name: "ANITA KUMAR", Identifier: "R007"})
	require.NotNil(t, a)
	assert.Equal(t, "R007_photo.jpg", a.SourceKey)
	assert.Equal(t, record.MatchIdentifier, src)

	out, st := r.Resolve(context.Background(), []record.Record{{Name: "ANITA KUMAR", Identifier: "R007"}})
	require.Len(t, out, 1)
	assert.Equal(t, record.MatchIdentifier, out[0].Source)
	assert.NotNil(t, out[0].Photo)
	assert.Equal(t, 1, st.Identifier)
}

func TestResolver_NameFallback(t *testing.T) {
	p := NewPool(Asset{SourceKey: "IMG-Anita.Kumar (1).png", Bytes: pngBytes(t, color.White)})
	r := newResolver(p, nil)

	_, src := r.Match(record.Record{Name: "ANITA KUMAR", Identifier: "R999"})
	assert.Equal(t, record.MatchName, src)

	// names of three characters or fewer never match by name
	_, src = r.Match(record.Record{Name: "IMG", Identifier: record.UnknownIdentifier})
	assert.Equal(t, record.MatchNone, src)
}

func TestResolver_SentinelIdentifierIsIgnored(t *testing.T) {
	p := NewPool(Asset{SourceKey: "N-A_N_A.png", Bytes: pngBytes(t, color.White)})
	r := newResolver(p, nil)
	a, src := r.Match(record.Record{Name: "ZED", Identifier: record.UnknownIdentifier})
	assert.Nil(t, a)
	assert.Equal(t, record.MatchNone, src)
}

func TestResolver_SkipsUndecodableAssets(t *testing.T) {
	good := pngBytes(t, color.White)
	p := NewPool(
		Asset{SourceKey: "R007.jpg", Bytes: []byte("dummy content")},
		Asset{SourceKey: "R007_v2.png", Bytes: good},
	)
	a, src := newResolver(p, nil).Match(record.Record{Name: "X", Identifier: "R007"})
	require.NotNil(t, a)
	assert.Equal(t, "R007_v2.png", a.SourceKey)
	assert.Equal(t, record.MatchIdentifier, src)
}

func TestNewPool_DecodeCheckAndOverwrite(t *testing.T) {
	p := NewPool(
		Asset{SourceKey: "dir/R1.png", Bytes: []byte("not an image")},
		Asset{SourceKey: "R2.png", Bytes: pngBytes(t, color.Black)},
		Asset{SourceKey: "other/r1.PNG", Bytes: pngBytes(t, color.White)},
	)
	assert.Equal(t, 2, p.Len())

	a, ok := p.Lookup("R1.png")
	require.True(t, ok)
	assert.Equal(t, "r1.PNG", a.SourceKey)
	assert.True(t, a.DecodedOK)

	var order []string
	p.Each(func(a *Asset) bool {
		order = append(order, a.SourceKey)
		return true
	})
	assert.Equal(t, []string{"r1.PNG", "R2.png"}, order)
}

func TestResolver_FirstMatchWinsInPoolOrder(t *testing.T) {
	p := NewPool(
		Asset{SourceKey: "R1_first.png", Bytes: pngBytes(t, color.White)},
		Asset{SourceKey: "R1_second.png", Bytes: pngBytes(t, color.Black)},
	)
	a, _ := newResolver(p, nil).Match(record.Record{Name: "X", Identifier: "R1"})
	require.NotNil(t, a)
	assert.Equal(t, "R1_first.png", a.SourceKey)
}

func TestExtractFileID(t *testing.T) {
	tests := map[string]string{
		"https://drive.google.com/open?id=1AbC_d-9":                      "1AbC_d-9",
		"https://drive.google.com/uc?export=download&id=XYZ":             "XYZ",
		"https://drive.google.com/file/d/1AbC/view?usp=sharing":          "1AbC",
		"https://drive.google.com/file/u/1/d/1AbC/view":                  "1AbC",
		"https://drive.google.com/drive/u/2/folders/x?resourcekey&id=Q1": "Q1",
	}
	for in, want := range tests {
		got, err := ExtractFileID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ExtractFileID("https://example.org/photo.jpg")
	assert.ErrorIs(t, err, ErrNoFileID)
}

func driveServer(t *testing.T, photo []byte, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "good":
			w.Header().Set("Content-Type", "image/png")
			w.Write(photo)
		case "octet":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(photo)
		case "login":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body>Sign in</body></html>"))
		case "large":
			if r.URL.Query().Get("confirm") == "t0k" {
				w.Header().Set("Content-Type", "image/png")
				w.Write(photo)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "download_warning_123", Value: "t0k", Path: "/"})
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>virus scan warning</html>"))
		case "slow":
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
			w.Write(photo)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestDriveFetcher(t *testing.T) {
	photo := pngBytes(t, color.White)
	srv := driveServer(t, photo, 0)
	defer srv.Close()
	f := &DriveFetcher{Client: srv.Client(), BaseURL: srv.URL}
	ctx := context.Background()

	b, err := f.Fetch(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, photo, b)

	b, err = f.Fetch(ctx, "octet")
	require.NoError(t, err)
	assert.Equal(t, photo, b)

	b, err = f.Fetch(ctx, "large")
	require.NoError(t, err)
	assert.Equal(t, photo, b)

	_, err = f.Fetch(ctx, "login")
	assert.ErrorIs(t, err, imagepkg.ErrNotAnImage)

	_, err = f.Fetch(ctx, "missing")
	assert.Error(t, err)
}

func TestResolver_RemoteFallback(t *testing.T) {
	photo := pngBytes(t, color.White)
	srv := driveServer(t, photo, 0)
	defer srv.Close()

	r := newResolver(NewPool(), &DriveFetcher{Client: srv.Client(), BaseURL: srv.URL})
	recs := []record.Record{
		{Name: "A", Identifier: "R1", Image: "https://drive.google.com/open?id=good"},
		{Name: "B", Identifier: "R2", Image: "https://drive.google.com/file/d/login/view"},
		{Name: "C", Identifier: "R3", Image: "not a link"},
		{Name: "D", Identifier: "R4"},
	}
	out, st := r.Resolve(context.Background(), recs)
	require.Len(t, out, 4)
	assert.Equal(t, record.MatchRemote, out[0].Source)
	assert.NotNil(t, out[0].Photo)
	for _, res := range out[1:] {
		assert.Nil(t, res.Photo)
		assert.Equal(t, record.MatchNone, res.Source)
	}
	assert.Equal(t, Stats{Remote: 1, Missing: 3}, st)
}

func TestResolver_RemoteTimeoutBoundsBatch(t *testing.T) {
	photo := pngBytes(t, color.White)
	srv := driveServer(t, photo, 5*time.Second)
	defer srv.Close()

	local := pngBytes(t, color.Black)
	r := newResolver(NewPool(Asset{SourceKey: "L1.png", Bytes: local}), &DriveFetcher{Client: srv.Client(), BaseURL: srv.URL})
	r.Timeout = 200 * time.Millisecond
	r.Workers = 4

	var recs []record.Record
	for i := 0; i < 12; i++ {
		recs = append(recs, record.Record{Name: "SLOW", Identifier: "S" + string(rune('A'+i)), Image: "https://drive.google.com/open?id=slow"})
	}
	recs = append(recs, record.Record{Name: "LOCAL", Identifier: "L1", Image: "https://drive.google.com/open?id=slow"})

	start := time.Now()
	out, st := r.Resolve(context.Background(), recs)
	elapsed := time.Since(start)

	// 12 slow fetches on 4 workers: three waves of one timeout each
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 12, st.Missing)
	assert.Equal(t, record.MatchIdentifier, out[12].Source)
}
