package intake

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead is the slack allowed on top of the file limit for form fields and boundaries.
const multipartOverhead = 1 << 20

// Handler serves the upload intake API.
type Handler struct {
	store    *Store
	mirror   Mirror
	logger   *zap.Logger
	maxBytes int64
}

type Option func(*Handler)

// WithMirror copies every stored upload to m after the response is decided.
func WithMirror(m Mirror) Option {
	return func(h *Handler) { h.mirror = m }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

func NewHandler(store *Store, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{store: store, logger: logger, maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes mounts the intake endpoints. guard, when given, protects listing
// and retrieval; without it anyone who knows a file name can fetch the file.
func (h *Handler) RegisterRoutes(r gin.IRouter, guard ...gin.HandlerFunc) {
	r.GET("/health", h.health)
	api := r.Group("/api")
	api.POST("/upload-payment-screenshot", h.limitBody(), h.uploadErrors(), h.upload)
	screenshots := api.Group("/payment-screenshots", guard...)
	screenshots.GET("", h.list)
	screenshots.GET("/:filename", h.serve)
}

func (h *Handler) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
		c.Next()
	}
}

// uploadErrors renders the error recorded by the upload handler.
func (h *Handler) uploadErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		switch {
		case errors.Is(err, ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file too large", "maxBytes": h.maxBytes})
		case errors.Is(err, ErrInvalidType):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid file type, only JPEG, PNG and GIF images are allowed"})
		case errors.Is(err, ErrMissingFile), errors.Is(err, ErrMissingUser), errors.Is(err, ErrInvalidPackageDetails):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		default:
			h.logger.Error("upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to upload payment screenshot"})
		}
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("screenshot")
	if err != nil {
		if isBodyTooLarge(err) {
			_ = c.Error(ErrFileTooLarge)
			return
		}
		_ = c.Error(ErrMissingFile)
		return
	}
	if fh.Size > h.maxBytes {
		_ = c.Error(ErrFileTooLarge)
		return
	}
	userID := strings.TrimSpace(c.PostForm("userId"))
	if userID == "" {
		_ = c.Error(ErrMissingUser)
		return
	}
	details, err := parsePackageDetails(c.PostForm("packageDetails"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer f.Close()
	mimeType, err := resolveType(fh.Header.Get("Content-Type"), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !Allowed(mimeType) {
		_ = c.Error(ErrInvalidType)
		return
	}

	rec, err := h.store.Save(Upload{
		Body:           f,
		OriginalName:   fh.Filename,
		MIMEType:       mimeType,
		UserID:         userID,
		UserEmail:      strings.TrimSpace(c.PostForm("userEmail")),
		PackageDetails: details,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.logger.Info("payment screenshot stored",
		zap.String("file", rec.FileName),
		zap.String("user_id", rec.UserID),
		zap.Int64("size", rec.Size))

	if h.mirror != nil {
		go h.mirrorRecord(rec)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Payment screenshot uploaded successfully",
		"fileName":     rec.FileName,
		"size":         rec.Size,
		"originalName": rec.OriginalName,
	})
}

func (h *Handler) mirrorRecord(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.mirror.Put(ctx, rec); err != nil {
		h.logger.Warn("mirror upload failed", zap.String("file", rec.FileName), zap.Error(err))
	}
}

func (h *Handler) list(c *gin.Context) {
	recs, err := h.store.List(func(name string, err error) {
		h.logger.Warn("skipping unreadable metadata", zap.String("file", name), zap.Error(err))
	})
	if err != nil {
		h.logger.Error("list screenshots failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list payment screenshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "screenshots": recs, "count": len(recs)})
}

func (h *Handler) serve(c *gin.Context) {
	path, err := h.store.Path(c.Param("filename"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	if err != nil {
		h.logger.Error("serve screenshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to retrieve file"})
		return
	}
	c.File(path)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(isoMillis),
		"uploadDir": h.store.Dir(),
	})
}
