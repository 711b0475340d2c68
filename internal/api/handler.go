package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDHeader         = "X-User-ID"
	requestIDHeader      = "X-Request-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	carts   *service.CartService
	orders  *service.OrderService
	catalog *service.CatalogService
	checks  map[string]ReadinessCheck
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(carts *service.CartService, orders *service.OrderService, catalog *service.CatalogService) *Handler {
	return &Handler{
		carts:   carts,
		orders:  orders,
		catalog: catalog,
		checks:  make(map[string]ReadinessCheck),
		logger:  util.Component("http"),
	}
}

// AddReadinessCheck registers a dependency checked by /ready.
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cart := router.Group("/cart")
	{
		cart.GET("", h.getCart)
		cart.POST("/items", h.addCartItem)
		cart.PUT("/items", h.updateCartItem)
		cart.DELETE("/items/:productId", h.removeCartItem)
		cart.DELETE("/clear", h.clearCart)
		cart.DELETE("", h.deleteCart)
	}

	orders := router.Group("/orders")
	{
		orders.POST("", h.createOrder)
		orders.GET("", h.listUserOrders)
		orders.GET("/all", h.listAllOrders)
		orders.GET("/:id", h.getOrder)
		orders.PUT("/:id/status", h.updateOrderStatus)
	}

	products := router.Group("/products")
	{
		products.GET("/:id", h.getProduct)
		products.PATCH("/:id", h.updateProduct)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondOK writes a success envelope merged with fields.
func respondOK(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// respondError maps err onto the error envelope. Internal failures are
// logged with their cause and reported with an opaque message.
func (h *Handler) respondError(c *gin.Context, err error) {
	e := apperr.From(err)

	body := gin.H{
		"success": false,
		"error":   e.Code,
		"message": e.Message,
	}

	switch {
	case e.Code == apperr.CodeInternal:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDHeader)),
			zap.Error(err))
		body["message"] = "internal error"
	case len(e.Shortages) > 0:
		body["details"] = gin.H{"shortages": e.Shortages}
	case e.ProductID != 0:
		body["details"] = gin.H{"produtoId": e.ProductID}
	}

	c.JSON(e.HTTPStatus(), body)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.respondError(c, apperr.Validation("invalid request: %s", err.Error()))
}

// userIDFrom reads the caller identity set by the upstream gateway.
func userIDFrom(c *gin.Context) (int64, error) {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		return 0, apperr.Validation("missing %s header", userIDHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s header", userIDHeader)
	}
	return id, nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// requestIDMiddleware propagates or assigns a request id
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
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
