package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tetrio-api/pkg/cache"
	"tetrio-api/pkg/client"
)

// maxPrimeBody caps the body accepted by PUT /cache
const maxPrimeBody = 8 << 20

// ProxyHandler exposes the cached API client over HTTP
type ProxyHandler struct {
	client *client.Client
	logger *zap.Logger
}

// NewProxyHandler creates a new handler
func NewProxyHandler(c *client.Client, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		client: c,
		logger: logger,
	}
}

// Register mounts the proxy routes on group
func (h *ProxyHandler) Register(group *gin.RouterGroup) {
	group.GET("/fetch/*route", h.Fetch)
	group.GET("/cache/*route", h.Peek)
	group.PUT("/cache/*route", h.Prime)
}

// Fetch handles GET /fetch/*route
func (h *ProxyHandler) Fetch(c *gin.Context) {
	route, ok := routeParam(c)
	if !ok {
		return
	}

	env, err := client.Fetch[json.RawMessage](c.Request.Context(), h.client, route, c.GetHeader(client.SessionHeader))
	if err != nil {
		h.fail(c, route, err)
		return
	}

	c.JSON(http.StatusOK, env)
}

// Peek handles GET /cache/*route
func (h *ProxyHandler) Peek(c *gin.Context) {
	route, ok := routeParam(c)
	if !ok {
		return
	}

	env, err := client.Peek[json.RawMessage](c.Request.Context(), h.client, route, c.GetHeader(client.SessionHeader))
	if err != nil {
		h.fail(c, route, err)
		return
	}
	if env == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not cached"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"route":         route,
		"expires_at":    env.Cache.ExpiresAt(),
		"remaining_ttl": env.Cache.TTLRemaining(time.Now()).String(),
		"envelope":      env,
	})
}

// Prime handles PUT /cache/*route, the body being a raw API response
func (h *ProxyHandler) Prime(c *gin.Context) {
	route, ok := routeParam(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPrimeBody)
	body, err := c.GetRawData()
	if err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	env, err := client.Prime[json.RawMessage](c.Request.Context(), h.client, route, c.GetHeader(client.SessionHeader), body)
	if err != nil {
		var perr *client.Error
		if errors.As(err, &perr) && perr.Kind == client.KindBodyParsing {
			c.JSON(http.StatusBadRequest, errorBody(perr))
			return
		}
		h.fail(c, route, err)
		return
	}

	h.logger.Debug("cache primed via API", zap.String("route", route))
	c.JSON(http.StatusOK, env)
}

// Health handles GET /health
func (h *ProxyHandler) Health(c *gin.Context) {
	if pinger, ok := h.client.Backend().(cache.Pinger); ok {
		if err := pinger.Ping(c.Request.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"upstream":  h.client.URL(""),
		"requests":  h.client.Dispatcher().Calls(),
		"timestamp": time.Now(),
	})
}

func (h *ProxyHandler) fail(c *gin.Context, route string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("proxy request failed", zap.String("route", route), zap.Error(err))
	} else {
		h.logger.Warn("proxy request rejected", zap.String("route", route), zap.Error(err))
	}

	var perr *client.Error
	if errors.As(err, &perr) {
		c.JSON(status, errorBody(perr))
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps a pipeline error to the proxy's response status
func statusFor(err error) int {
	var perr *client.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError
	}

	switch perr.Kind {
	case client.KindHeaderEncoding, client.KindRequestBuild:
		return http.StatusBadRequest
	case client.KindTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case client.KindBodyParsing:
		return http.StatusBadGateway
	case client.KindBackend, client.KindCacheConversion, client.KindConversion:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(perr *client.Error) gin.H {
	body := gin.H{
		"error": perr.Error(),
		"kind":  perr.Kind.String(),
	}
	if perr.Path != "" {
		body["path"] = perr.Path
	}
	return body
}

// routeParam returns the upstream route, query string included
func routeParam(c *gin.Context) (string, bool) {
	route := strings.TrimPrefix(c.Param("route"), "/")
	if route == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route is required"})
		return "", false
	}
	if q := c.Request.URL.RawQuery; q != "" {
		route += "?" + q
	}
	return route, true
}
