package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scribeflow/creditcore/internal/observability/logger"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	"github.com/scribeflow/creditcore/internal/ratelimit"
)

// SubmitRateLimit throttles job submissions per account.
func (s *Server) SubmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()

		accountID, err := readSubmitAccountID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("submit rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if accountID == "" {
			// Body validation rejects the request downstream.
			c.Next()
			return
		}

		allowed, err := s.limiter.AllowSubmit(ctx, accountID)
		if err != nil {
			logger.FromContext(ctx).Warn("submit rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			s.denyRateLimit(c, endpoint, ratelimit.ReasonAccountRate)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

// WebhookRateLimit throttles webhook deliveries per provider.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()
		provider := strings.TrimSpace(c.Param("provider"))

		allowed, err := s.limiter.AllowWebhook(ctx, provider)
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			s.denyRateLimit(c, endpoint, ratelimit.ReasonSourceRate)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func (s *Server) denyRateLimit(c *gin.Context, endpoint, reason string) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, s.obsMetrics)

	c.Header("Retry-After", "1")
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

// readSubmitAccountID peeks the account id out of the submit body and restores
// the body for the handler.
func readSubmitAccountID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var probe struct {
		AccountID string `json:"account_id"`
	}
	if len(body) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", nil
	}
	return strings.TrimSpace(probe.AccountID), nil
}
