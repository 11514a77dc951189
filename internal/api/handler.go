package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine consumes a verified, typed payment event.
type Engine interface {
	HandleEvent(ctx context.Context, event models.PaymentEvent) error
}

// SignatureVerifier checks the provider signature over the raw payload.
// Verification itself is a provider capability consumed as a black box.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) error
}

// SignatureHeader is the provider's signature header name
const SignatureHeader = "Payment-Signature"

// Handler contains HTTP handlers
type Handler struct {
	engine   Engine
	verifier SignatureVerifier
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(engine Engine, verifier SignatureVerifier) *Handler {
	return &Handler{
		engine:   engine,
		verifier: verifier,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payment", h.handlePaymentWebhook)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// handlePaymentWebhook receives provider notifications. Once the
// signature checks out, the response is always {"received": true}: the
// boundary's job is to stop provider-side retries, not to surface
// internal outcomes. Failures live in the ledger, not in the HTTP status.
func (h *Handler) handlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if err := h.verifier.Verify(payload, c.GetHeader(SignatureHeader)); err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	event, err := models.ParsePaymentEvent(payload)
	if err != nil {
		// Unresolvable payload: acknowledged, logged, no state change.
		h.logger.Warn("Failed to parse payment event", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.engine.HandleEvent(c.Request.Context(), event); err != nil {
		h.logger.Error("Event handling failed, acknowledging anyway",
			zap.String("event_id", event.EventID()),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
