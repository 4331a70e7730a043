package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"payproof/pkg/intake"
	"payproof/pkg/ocr"
	"payproof/pkg/payment"
)

var errScreenshotTooLarge = errors.New("file too large")

// paymentAPI serves the authenticated payment endpoints.
type paymentAPI struct {
	scanner  payment.Scanner
	store    payment.Store
	intake   *intake.Client // optional; forwards the raw screenshot before the record is written
	log      *zap.Logger
	maxBytes int64
}

func setupRoutes(r *gin.Engine, api *paymentAPI, secret []byte) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})
	payments := r.Group("/api/payments")
	payments.Use(jwtAuthMiddleware(secret))
	payments.POST("/recognize", api.recognizeHandler)
	payments.POST("", api.submitHandler)
	payments.GET("/me", api.meHandler)
}

// newRouter builds a gin engine with request logging, recovery and CORS.
func newRouter(log *zap.Logger, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(log), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// readScreenshot loads the multipart "screenshot" part. A missing part yields nil data.
func (a *paymentAPI) readScreenshot(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBytes+1<<20)
	fh, err := c.FormFile("screenshot")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, errScreenshotTooLarge
		}
		return nil, err
	}
	if fh.Size > a.maxBytes {
		return nil, errScreenshotTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if !intake.Allowed(mimetype.Detect(data).String()) {
		return nil, intake.ErrInvalidType
	}
	return data, nil
}

func screenshotError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errScreenshotTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
	case errors.Is(err, intake.ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, only JPEG, PNG and GIF images are allowed"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
	}
}

// recognizeHandler runs the OCR pipeline on a screenshot. Recognition failures
// are a normal outcome and are reported with 200.
func (a *paymentAPI) recognizeHandler(c *gin.Context) {
	data, err := a.readScreenshot(c)
	if err != nil {
		screenshotError(c, err)
		return
	}
	if data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	res := a.scanner.Scan(c.Request.Context(), data)
	out := gin.H{"status": res.Status, "transactionId": res.TransactionID, "rule": res.Rule}
	if res.Err != nil {
		_ = c.Error(res.Err)
		out["message"] = "could not read the transaction ID, please enter it manually"
	}
	c.JSON(http.StatusOK, out)
}

// submitHandler drives a payment.Form from a multipart request: screenshot,
// paymentMethod, paymentAmount and an optional manual transactionId, which wins
// over the recognized one.
func (a *paymentAPI) submitHandler(c *gin.Context) {
	who, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	data, err := a.readScreenshot(c)
	if err != nil {
		screenshotError(c, err)
		return
	}

	form := payment.NewForm(a.scanner)
	form.SetMethod(c.PostForm("paymentMethod"))
	if raw := strings.TrimSpace(c.PostForm("paymentAmount")); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "paymentAmount must be an integer"})
			return
		}
		form.SetAmount(amount)
	}
	if data != nil {
		<-form.SelectScreenshot(c.Request.Context(), data)
	}
	if manual := strings.TrimSpace(c.PostForm("transactionId")); manual != "" {
		form.SetTransactionID(manual)
	}
	if err := form.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "errors": strings.Split(err.Error(), "\n")})
		return
	}

	var fileName string
	if a.intake != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		resp, err := a.intake.Upload(ctx, "payment"+extFor(data), mimetype.Detect(data).String(), data, who.UserID, who.Email, nil)
		cancel()
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to upload payment screenshot"})
			return
		}
		fileName = resp.FileName
	}

	sub, err := form.Submit(c.Request.Context(), who, a.store)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit payment, please try again"})
		return
	}
	a.log.Info("payment submitted",
		zap.String("user_id", sub.UserID),
		zap.String("method", string(sub.Method)),
		zap.String("transaction_id", sub.TransactionID),
		zap.String("ocr_status", string(form.LastResult().Status)))

	out := gin.H{
		"paymentStatus":      sub.Status,
		"paymentSubmittedAt": sub.SubmittedAt.Format(time.RFC3339),
		"transactionId":      sub.TransactionID,
		"ocrStatus":          form.LastResult().Status,
	}
	if fileName != "" {
		out["fileName"] = fileName
	}
	c.JSON(http.StatusOK, out)
}

func (a *paymentAPI) meHandler(c *gin.Context) {
	who, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	sub, err := a.store.LoadPayment(c.Request.Context(), who.UserID)
	if errors.Is(err, payment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no payment on record"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load payment"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

func extFor(data []byte) string {
	switch mimetype.Detect(data).String() {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

var _ payment.Scanner = (*ocr.Pipeline)(nil)
