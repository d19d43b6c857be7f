package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/faceswap-gateway/internal/generation"
	"github.com/example/faceswap-gateway/internal/upload"
	"github.com/example/faceswap-gateway/internal/usecase"
)

const (
	// MaxFormMemory is how much of a multipart body gin keeps in memory before spilling to disk.
	MaxFormMemory = 32 << 20

	multipartOverhead = 1 << 20
)

// Options configures upload limits and static serving.
type Options struct {
	MaxFileBytes int64
	MaxBatchSize int
	StaticDir    string
}

type handler struct {
	uc   *usecase.GenerationUseCase
	opts Options
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.GenerationUseCase, opts Options) {
	h := &handler{uc: uc, opts: opts}

	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/generate", h.generate)
	api.POST("/generate-batch", h.generateBatch)
	api.GET("/generations/:id", h.getGeneration)

	if opts.StaticDir != "" {
		fileServer := http.FileServer(gin.Dir(opts.StaticDir, false))
		router.NoRoute(func(c *gin.Context) {
			method := c.Request.Method
			if (method != http.MethodGet && method != http.MethodHead) || strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
		})
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "hasApiKey": h.uc.Configured()})
}

func (h *handler) generate(c *gin.Context) {
	if !h.uc.Configured() {
		missingAPIKey(c)
		return
	}

	form, ok := h.parseForm(c, 3)
	if !ok {
		return
	}
	limits := h.limits()

	faces, err := upload.Faces(form, limits)
	if err != nil {
		uploadError(c, err)
		return
	}
	target, err := upload.Target(form, limits)
	if err != nil {
		uploadError(c, err)
		return
	}

	requestID, res, err := h.uc.GenerateSingle(c.Request.Context(), faces, target, upload.Options(form))
	if err != nil {
		if errors.Is(err, usecase.ErrAPIKeyMissing) {
			missingAPIKey(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Generation failed", "message": err.Error()})
		return
	}

	body := resultBody(res)
	body["requestId"] = requestID
	switch {
	case res.Failure == nil:
		c.JSON(http.StatusOK, body)
	case res.Failure.Kind == generation.KindException:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Generation failed", "message": res.Failure.Message, "requestId": requestID})
	default:
		c.JSON(http.StatusBadRequest, body)
	}
}

func (h *handler) generateBatch(c *gin.Context) {
	if !h.uc.Configured() {
		missingAPIKey(c)
		return
	}

	form, ok := h.parseForm(c, 2+h.opts.MaxBatchSize)
	if !ok {
		return
	}
	limits := h.limits()

	faces, err := upload.Faces(form, limits)
	if err != nil {
		uploadError(c, err)
		return
	}
	targets, err := upload.Targets(form, limits)
	if err != nil {
		uploadError(c, err)
		return
	}

	summary, err := h.uc.GenerateBatch(c.Request.Context(), faces, targets, upload.Options(form))
	if err != nil {
		if errors.Is(err, usecase.ErrAPIKeyMissing) {
			missingAPIKey(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Batch generation failed", "message": err.Error()})
		return
	}

	results := make([]gin.H, 0, len(summary.Results))
	for _, item := range summary.Results {
		entry := resultBody(item.Result)
		entry["index"] = item.Index
		entry["filename"] = item.Filename
		results = append(results, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"requestId":    summary.RequestID,
		"total":        summary.Total,
		"successCount": summary.SuccessCount,
		"failureCount": summary.FailureCount,
		"results":      results,
	})
}

func (h *handler) getGeneration(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	summary, err := h.uc.GetSummary(c.Request.Context(), requestID)
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) limits() upload.Limits {
	return upload.Limits{MaxFileBytes: h.opts.MaxFileBytes, MaxTargets: h.opts.MaxBatchSize}
}

// parseForm caps the body at maxFiles full-size uploads and parses it.
func (h *handler) parseForm(c *gin.Context, maxFiles int) (*multipart.Form, bool) {
	if h.opts.MaxFileBytes > 0 {
		limit := int64(maxFiles)*h.opts.MaxFileBytes + multipartOverhead
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large", "message": "request body exceeds the upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload", "message": "expected a multipart/form-data body"})
		return nil, false
	}
	return form, true
}

func missingAPIKey(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Server configuration error",
		"message": "GEMINI_API_KEY is not configured",
	})
}

func uploadError(c *gin.Context, err error) {
	var (
		validation  *upload.ValidationError
		tooLarge    *upload.TooLargeError
		unsupported *upload.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large", "message": tooLarge.Error()})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Unsupported file type", "message": unsupported.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload", "message": err.Error()})
	}
}

func resultBody(res generation.Result) gin.H {
	if res.Failure == nil && res.Image != nil {
		return gin.H{
			"success": true,
			"image":   gin.H{"mimeType": res.Image.MIMEType, "data": res.Image.Data},
			"text":    res.Text,
		}
	}

	f := res.Failure
	if f == nil {
		f = &generation.Failure{Kind: generation.KindNoImage, Message: "The model did not return an image."}
	}
	body := gin.H{
		"success":   false,
		"error":     f.Message,
		"errorType": string(f.Kind),
	}
	if f.Code != 0 {
		body["errorCode"] = f.Code
	}
	if f.Status != "" {
		body["errorStatus"] = f.Status
	}
	if f.BlockReason != "" {
		body["blockReason"] = f.BlockReason
	}
	if f.FinishReason != "" {
		body["finishReason"] = f.FinishReason
	}
	if res.Text != "" {
		body["text"] = res.Text
	}
	return body
}
