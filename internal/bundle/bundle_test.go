package bundle

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCerts(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for i, n := range names {
		img := image.NewRGBA(image.Rect(0, 0, 40, 30))
		img.Set(1, 1, color.RGBA{R: uint8(i * 40), A: 255})
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), buf.Bytes(), 0o644))
	}
	return dir
}

func TestImages(t *testing.T) {
	dir := writeCerts(t, "R2_B.png", "R1_A.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".R0_tmp.png"), []byte("x"), 0o644))

	files, err := Images(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "R1_A.png"), filepath.Join(dir, "R2_B.png")}, files)
}

func TestZip(t *testing.T) {
	dir := writeCerts(t, "R2_B.png", "R1_A.png")
	dst := filepath.Join(t.TempDir(), "certificates.zip")
	require.NoError(t, Zip(dir, dst))

	zr, err := zip.OpenReader(dst)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"R1_A.png", "R2_B.png"}, names)
}

func TestPDF(t *testing.T) {
	dir := writeCerts(t, "R1_A.png", "R2_B.png")
	dst := filepath.Join(t.TempDir(), "certificates.pdf")
	require.NoError(t, PDF(dir, dst))
	// a second build replaces rather than appends
	require.NoError(t, PDF(dir, dst))

	n, err := api.PageCountFile(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEmpty(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorIs(t, Zip(dir, filepath.Join(dir, "a.zip")), ErrEmpty)
	assert.ErrorIs(t, PDF(dir, filepath.Join(dir, "a.pdf")), ErrEmpty)
}
