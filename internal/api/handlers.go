package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/batch"
	"github.com/youruser/certbatch/internal/bundle"
	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/ingest"
	"github.com/youruser/certbatch/internal/record"
	"github.com/youruser/certbatch/internal/runs"
	"github.com/youruser/certbatch/internal/verify"
)

const maxPhotoUpload = 20 << 20

// health
func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createRun ingests an uploaded data file and optional photo archive, then
// starts rendering in the background. Clients poll runStatus.
func (s *Server) createRun(c *gin.Context) {
	dataFile, err := c.FormFile("data_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data file provided"})
		return
	}
	d, err := s.Store.Create()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log := s.log().With(zap.String("run_id", d.ID))

	in := ingest.Input{DataPath: d.File("input" + strings.ToLower(filepath.Ext(dataFile.Filename)))}
	if err := c.SaveUploadedFile(dataFile, in.DataPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if zf, err := c.FormFile("photos_zip"); err == nil {
		in.PhotosZip = d.File("photos.zip")
		if err := c.SaveUploadedFile(zf, in.PhotosZip); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	recs, stats, err := s.Ingest.Ingest(c.Request.Context(), in)
	if err != nil {
		log.Warn("Ingestion failed.", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error processing data file: " + err.Error()})
		return
	}
	if err := batch.WriteRecords(d.RecordsPath(), recs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := d.WriteMeta(runs.Meta{Total: len(recs), Status: batch.StatusQueued, Timestamp: time.Now().Unix()}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// the batch outlives the request
	run := s.Batch.Submit(context.Background(), d.ID, d.CertificatesDir(), recs)
	s.track(d, run)

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": d.ID,
		"total":  len(recs),
		"photos": gin.H{
			"by_identifier": stats.Identifier,
			"by_name":       stats.Name,
			"remote":        stats.Remote,
			"missing":       stats.Missing,
		},
	})
}

func (s *Server) runStatus(c *gin.Context) {
	id := c.Param("id")
	if run, ok := s.activeRun(id); ok {
		c.JSON(http.StatusOK, run.Progress())
		return
	}
	d, err := s.Store.Open(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	m, err := d.ReadMeta()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runs.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	p := batch.Progress{
		RunID:     id,
		Total:     m.Total,
		Completed: m.Succeeded + m.Failed,
		Succeeded: m.Succeeded,
		Failed:    m.Failed,
		Status:    m.Status,
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) runArchive(c *gin.Context) {
	id := c.Param("id")
	format := c.DefaultQuery("format", "zip")
	if format != "zip" && format != "pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be zip or pdf"})
		return
	}
	// a run leaves the active set only after it is persisted and published
	if _, ok := s.activeRun(id); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "run is still processing"})
		return
	}
	d, err := s.Store.Open(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	dst := d.File("certificates." + format)
	if format == "pdf" {
		err = bundle.PDF(d.CertificatesDir(), dst)
	} else {
		err = bundle.Zip(d.CertificatesDir(), dst)
	}
	switch {
	case errors.Is(err, bundle.ErrEmpty):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(dst, "Certificates."+format)
}

// certificate renders a single certificate from form fields and an optional photo.
func (s *Server) certificate(c *gin.Context) {
	if s.Renderer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "renderer is not configured"})
		return
	}
	res := record.Resolved{Record: record.Canonical(record.Record{
		Name:       c.PostForm("name"),
		Identifier: c.PostForm("roll_no"),
		Date:       c.PostForm("date"),
	})}

	if fh, err := c.FormFile("photo"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := io.ReadAll(io.LimitReader(f, maxPhotoUpload))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		photo, err := s.normalizer().Normalize(b)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res.Photo = photo
	}

	png, err := s.Renderer.Render(c.Request.Context(), res)
	if err != nil {
		s.log().Error("Single certificate render failed.", zap.String("roll", res.Record.Identifier), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) normalizer() *imagepkg.Normalizer {
	if s.Normalizer == nil {
		return imagepkg.NewNormalizer(imagepkg.NormalizeOptions{})
	}
	return s.Normalizer
}

// qr endpoint returns a PNG of a QR for "text" query param
func qrHandler(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		text = "certbatch"
	}
	size := 400
	if v, err := strconv.Atoi(c.Query("size")); err == nil {
		size = min(max(v, 64), 2048)
	}
	b, err := imagepkg.GenerateQRPNG(text, size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", b)
}

// verifyHandler decodes the payload carried by a certificate's QR code.
func verifyHandler(c *gin.Context) {
	p, err := verify.DecodePayload(c.Query("payload"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}
