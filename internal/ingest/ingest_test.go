package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youruser/certbatch/internal/config"
	"github.com/youruser/certbatch/internal/photos"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/tabular"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for i := 0; i < 36; i++ {
		img.Set(i%6, i/6, c)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, b := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(b)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.Defaults().Photo, nil)
	require.NoError(t, err)
	return svc
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "students.csv")
	require.NoError(t, os.WriteFile(data, []byte("Name,Roll No,Dept\nAsha Rao,r001,CSE\nRavi Menon,R002,ECE\nZed,R003,ME\n"), 0o644))
	archive := filepath.Join(dir, "photos.zip")
	writeZip(t, archive, map[string][]byte{
		"R001.png":       pngBytes(t, color.NRGBA{R: 255, A: 255}),
		"ravi_menon.jpg": pngBytes(t, color.NRGBA{B: 255, A: 255}),
	})

	out, stats, err := newService(t).Ingest(context.Background(), Input{DataPath: data, PhotosZip: archive})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, photos.Stats{Identifier: 1, Name: 1, Missing: 1}, stats)

	assert.Equal(t, "ASHA RAO", out[0].Record.Name)
	assert.Equal(t, "R001", out[0].Record.Identifier)
	assert.Equal(t, "CSE", out[0].Record.RawFields["dept"])
	assert.Equal(t, record.MatchIdentifier, out[0].Source)
	require.NotNil(t, out[0].Photo)
	assert.Equal(t, "image/jpeg", out[0].Photo.MIME)

	assert.Equal(t, record.MatchName, out[1].Source)
	assert.Nil(t, out[2].Photo)
}

func TestIngest_Errors(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t)
	ctx := context.Background()

	unsupported := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(unsupported, []byte("[]"), 0o644))
	_, _, err := svc.Ingest(ctx, Input{DataPath: unsupported})
	assert.ErrorIs(t, err, tabular.ErrUnsupportedFormat)

	headerOnly := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(headerOnly, []byte("name,roll\n"), 0o644))
	_, _, err = svc.Ingest(ctx, Input{DataPath: headerOnly})
	assert.ErrorIs(t, err, tabular.ErrNoTabularData)

	good := filepath.Join(dir, "ok.csv")
	require.NoError(t, os.WriteFile(good, []byte("name,roll\nA,1\n"), 0o644))
	_, _, err = svc.Ingest(ctx, Input{DataPath: good, PhotosZip: filepath.Join(dir, "missing.zip")})
	assert.Error(t, err)
}

func TestNewService_BadFormat(t *testing.T) {
	cfg := config.Defaults().Photo
	cfg.Format = "gif"
	_, err := NewService(cfg, nil)
	assert.Error(t, err)
}
