package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/insights"
	"github.com/example/skincheck/internal/objectstore"
	"github.com/example/skincheck/internal/repository"
	"github.com/example/skincheck/internal/usecase"
)

// MaxUploadSize is the largest accepted image upload.
const MaxUploadSize = imaging.DefaultMaxBytes

// multipartOverhead is the slack allowed on top of the image for form fields and boundaries.
const multipartOverhead = 1 << 20

var acceptedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ScanService is the use case surface the HTTP layer depends on.
type ScanService interface {
	Submit(ctx context.Context, req usecase.SubmitRequest) (*usecase.SubmitResult, error)
	CreateSpot(ctx context.Context, location *string) (*repository.Spot, error)
	GetScan(ctx context.Context, scanID string) (*repository.Scan, error)
	History(ctx context.Context) ([]repository.Scan, error)
	Spots(ctx context.Context) ([]usecase.SpotHistory, error)
	Alerts(ctx context.Context) ([]insights.Alert, error)
	Tips(ctx context.Context) ([]insights.Tip, error)
	Progress(ctx context.Context) (*insights.ProgressSummary, error)
	ListImages(ctx context.Context) ([]objectstore.ObjectInfo, error)
}

// ImageIngest turns uploaded bytes into a normalized image handle.
type ImageIngest interface {
	FromBytes(name string, raw []byte) (*imaging.Handle, error)
}

// ObjectReader serves stored objects by bucket and key.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, string, error)
}

// ReadinessCheck probes one dependency for /ready.
type ReadinessCheck func(ctx context.Context) error

// Options configures the optional parts of the router.
type Options struct {
	MaxUploadSize  int64
	Ingest         ImageIngest
	Objects        ObjectReader
	Readiness      map[string]ReadinessCheck
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

type api struct {
	svc           ScanService
	ingest        ImageIngest
	maxUploadSize int64
	logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScanService, authMiddleware gin.HandlerFunc, opts Options) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Ingest == nil {
		opts.Ingest = imaging.NewNormalizer(nil, filepath.Join(".", "tmp", "uploads"), imaging.DefaultTargetSize)
	}
	h := &api{svc: svc, ingest: opts.Ingest, maxUploadSize: opts.MaxUploadSize, logger: opts.Logger.Named("http")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", readiness(opts.Readiness))
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	if opts.Objects != nil {
		router.GET("/objects/:bucket/*key", serveObject(opts.Objects))
	}

	authorized := router.Group("/", authMiddleware)
	authorized.POST("/scans", h.submitScan)
	authorized.GET("/scans/:id", h.getScan)
	authorized.POST("/spots", h.createSpot)
	authorized.GET("/spots", h.spots)
	authorized.GET("/history", h.history)
	authorized.GET("/alerts", h.alerts)
	authorized.GET("/tips", h.tips)
	authorized.GET("/progress", h.progress)
	authorized.GET("/images", h.images)
}

func (h *api) submitScan(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)

	name, raw, err := h.readImage(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	image, err := h.ingest.FromBytes(name, raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	defer func() {
		if err := image.Remove(); err != nil {
			h.logger.Warn("failed to remove normalized upload", zap.String("path", image.Path), zap.Error(err))
		}
	}()

	req := usecase.SubmitRequest{Image: image, SpotID: strings.TrimSpace(c.PostForm("spot_id"))}
	if location := strings.TrimSpace(c.PostForm("location")); location != "" {
		req.Location = &location
	}

	result, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// readImage accepts either a multipart "image" file or an "image_data" data URI.
func (h *api) readImage(c *gin.Context) (string, []byte, error) {
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, &imaging.ValidationError{Reason: imaging.ErrTooLarge}
		}
		dataURI := c.PostForm("image_data")
		if dataURI == "" {
			return "", nil, errBadRequest("image file or image_data is required")
		}
		data, declared, ok, err := imaging.DecodeDataURI([]byte(dataURI))
		if !ok {
			return "", nil, errBadRequest("image_data must be a data URI")
		}
		if err != nil {
			return "", nil, &imaging.ValidationError{Reason: imaging.ErrUnsupportedFormat, Path: "image_data"}
		}
		if int64(len(data)) > h.maxUploadSize {
			return "", nil, &imaging.ValidationError{Reason: imaging.ErrTooLarge, Path: "image_data", Size: int64(len(data))}
		}
		if !acceptedImageTypes[declared] {
			return "", nil, &imaging.ValidationError{Reason: imaging.ErrUnsupportedFormat, Path: "image_data"}
		}
		return "image_data", data, nil
	}

	if file.Size > h.maxUploadSize {
		return "", nil, &imaging.ValidationError{Reason: imaging.ErrTooLarge, Path: file.Filename, Size: file.Size}
	}
	if declared := file.Header.Get("Content-Type"); declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err != nil || (!acceptedImageTypes[mediaType] && mediaType != "application/octet-stream") {
			return "", nil, &imaging.ValidationError{Reason: imaging.ErrUnsupportedFormat, Path: file.Filename}
		}
	}

	src, err := file.Open()
	if err != nil {
		return "", nil, errBadRequest("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", nil, err
	}
	if !acceptedImageTypes[mimetype.Detect(data).String()] {
		return "", nil, &imaging.ValidationError{Reason: imaging.ErrUnsupportedFormat, Path: file.Filename, Size: int64(len(data))}
	}
	return file.Filename, data, nil
}

func (h *api) getScan(c *gin.Context) {
	scan, err := h.svc.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, scan)
}

type createSpotRequest struct {
	Location *string `json:"location"`
}

func (h *api) createSpot(c *gin.Context) {
	var req createSpotRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, h.logger, errBadRequest("invalid spot payload"))
			return
		}
	}
	spot, err := h.svc.CreateSpot(c.Request.Context(), req.Location)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, spot)
}

func (h *api) spots(c *gin.Context) {
	spots, err := h.svc.Spots(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spots": spots})
}

func (h *api) history(c *gin.Context) {
	scans, err := h.svc.History(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

func (h *api) alerts(c *gin.Context) {
	alerts, err := h.svc.Alerts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *api) tips(c *gin.Context) {
	tips, err := h.svc.Tips(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tips": tips})
}

func (h *api) progress(c *gin.Context) {
	summary, err := h.svc.Progress(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *api) images(c *gin.Context) {
	objects, err := h.svc.ListImages(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": objects})
}

func readiness(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		report := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": report})
	}
}

func serveObject(objects ObjectReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		data, contentType, err := objects.GetObject(c.Request.Context(), c.Param("bucket"), key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}
