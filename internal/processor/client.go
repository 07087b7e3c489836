package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/scribeflow/creditcore/internal/config"
)

// ErrUpstreamFailure marks dispatch failures the caller should compensate
// for. The reservation placed for the job must be released when Dispatch
// returns an error wrapping this.
var ErrUpstreamFailure = errors.New("upstream_failure")

const maxDispatchAttempts = 2

// DispatchRequest describes one job handed to the processing backend.
type DispatchRequest struct {
	JobID     string   `json:"job_id"`
	Kind      string   `json:"kind"`
	SourceURL string   `json:"source_url,omitempty"`
	AddOns    []string `json:"add_ons,omitempty"`
}

// Dispatcher hands accepted jobs to the processing backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

type ClientParam struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// NewDispatcher returns an HTTP dispatcher, or a no-op one when no backend
// is configured.
func NewDispatcher(p ClientParam) Dispatcher {
	log := p.Log.Named("processor.client")
	baseURL := strings.TrimRight(p.Cfg.ProcessorBaseURL, "/")
	if baseURL == "" {
		log.Warn("no processing backend configured, dispatch is a no-op")
		return noopDispatcher{}
	}

	timeout := p.Cfg.ProcessorTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   p.Cfg.ProcessorToken,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxDispatchAttempts; attempt++ {
		lastErr = c.send(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.log.Warn("dispatch attempt failed",
			zap.String("job_id", req.JobID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamFailure, lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	return nil
}

var Module = fx.Module("processor.client",
	fx.Provide(NewDispatcher),
)
