package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/scribeflow/creditcore/internal/config"
)

const (
	keySubmitAccount  = "ratelimit:submit:account:%s"
	keyWebhookSource  = "ratelimit:webhook:%s"
	ReasonAccountRate = "account-rate"
	ReasonSourceRate  = "source-rate"
)

type bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (bool, error)
}

// RequestLimiter throttles job submissions per account and webhook deliveries
// per provider.
type RequestLimiter struct {
	enabled bool
	bucket  bucket

	submitRate   float64
	submitBurst  int
	webhookRate  float64
	webhookBurst int
}

func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}
	if cfg.SubmitRate <= 0 || cfg.SubmitBurst <= 0 {
		return nil, fmt.Errorf("submit rate limit must be positive")
	}
	if cfg.WebhookRate <= 0 || cfg.WebhookBurst <= 0 {
		return nil, fmt.Errorf("webhook rate limit must be positive")
	}

	var b bucket
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		b = NewTokenBucket(client)
	} else {
		b = NewLocalBucket()
	}

	return &RequestLimiter{
		enabled:      true,
		bucket:       b,
		submitRate:   cfg.SubmitRate,
		submitBurst:  cfg.SubmitBurst,
		webhookRate:  cfg.WebhookRate,
		webhookBurst: cfg.WebhookBurst,
	}, nil
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *RequestLimiter) AllowSubmit(ctx context.Context, accountID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keySubmitAccount, strings.TrimSpace(accountID))
	return l.bucket.Allow(ctx, key, l.submitRate, l.submitBurst)
}

func (l *RequestLimiter) AllowWebhook(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyWebhookSource, strings.TrimSpace(provider))
	return l.bucket.Allow(ctx, key, l.webhookRate, l.webhookBurst)
}
