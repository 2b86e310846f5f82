// Package bundle packages a directory of rendered certificates.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrEmpty means the directory holds no certificates.
var ErrEmpty = errors.New("no certificates to package")

// Images lists the PNG files of dir sorted by name.
func Images(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Zip writes every certificate in dir to a zip archive at dst.
func Zip(dir, dst string) error {
	files, err := Images(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrEmpty
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("add %s: %w", filepath.Base(f), err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	// PNG is already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// PDF writes one page per certificate, in filename order, with each page
// sized to its image.
func PDF(dir, dst string) error {
	files, err := Images(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrEmpty
	}
	// pdfcpu appends when the output exists
	tmp := dst + ".part"
	_ = os.Remove(tmp)

	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	if err := api.ImportImagesFile(files, tmp, imp, model.NewDefaultConfiguration()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("build pdf: %w", err)
	}
	return os.Rename(tmp, dst)
}
