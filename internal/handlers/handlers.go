package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/classifier"
	"github.com/example/skinsight/internal/decoder"
	"github.com/example/skinsight/internal/executor"
	"github.com/example/skinsight/internal/labels"
	"github.com/example/skinsight/internal/preprocess"
	"github.com/example/skinsight/internal/status"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

// multipart framing allowance on top of the file itself
const formOverhead = 4 << 10

const requestIDHeader = "X-Request-ID"

var supportedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// http.DetectContentType has no TIFF signature.
var tiffMagic = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}

func sniffContentType(data []byte) string {
	for _, magic := range tiffMagic {
		if bytes.HasPrefix(data, magic) {
			return "image/tiff"
		}
	}
	return http.DetectContentType(data)
}

// Classifier is the part of the inference broker the routes call.
type Classifier interface {
	Analyze(ctx context.Context, in preprocess.Input) (*decoder.Result, error)
	Classify(ctx context.Context, in preprocess.Input, task labels.Task) (*decoder.Prediction, error)
	Status() status.Report
}

// Options configures RegisterRoutes.
type Options struct {
	MaxUploadBytes int64
	Auth           gin.HandlerFunc
	Logger         *zap.Logger
}

type handler struct {
	classifier Classifier
	maxUpload  int64
	logger     *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Classifier, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{classifier: svc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger.Named("http")}

	router.Use(requestID)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/models/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.classifier.Status())
	})

	protected := router.Group("/")
	if opts.Auth != nil {
		protected.Use(opts.Auth)
	}
	protected.POST("/analyze", h.analyze)
	protected.POST("/classify/:task", h.classify)
}

func requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)
	c.Request = c.Request.WithContext(classifier.WithRequestID(c.Request.Context(), id))
	c.Next()
}

func (h *handler) analyze(c *gin.Context) {
	data, ok := h.readImage(c)
	if !ok {
		return
	}
	res, err := h.classifier.Analyze(c.Request.Context(), preprocess.FromBytes(data))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) classify(c *gin.Context) {
	task, err := labels.ParseTask(c.Param("task"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	data, ok := h.readImage(c)
	if !ok {
		return
	}
	pred, err := h.classifier.Classify(c.Request.Context(), preprocess.FromBytes(data), task)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// readImage enforces the size limit and sniffs the payload before the core
// sees it. It writes the error response itself.
func (h *handler) readImage(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+formOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if !supportedContentTypes[sniffContentType(data)] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, false
	}
	return data, true
}

func (h *handler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, preprocess.ErrUnsupportedInput), errors.Is(err, labels.ErrUnknownTask):
		code = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	case errors.Is(err, decoder.ErrDecode), errors.Is(err, executor.ErrInferenceRuntime):
		h.logger.Error("inference failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
