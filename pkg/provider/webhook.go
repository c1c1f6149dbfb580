package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"penserai/acteon/pkg/action"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig configures a webhook provider.
type WebhookConfig struct {
	// Name is the registry name.
	Name string `yaml:"name"`

	// URL receives the action payload as a JSON POST.
	URL string `yaml:"url"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Timeout bounds each request. Zero selects the default.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Validate checks the config.
func (c *WebhookConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("webhook: missing name")
	}
	if c.URL == "" {
		return fmt.Errorf("webhook %q: missing url", c.Name)
	}
	return nil
}

// Webhook delivers actions to an HTTP endpoint as JSON. Response
// status maps onto the error taxonomy: 2xx succeeds, 429 is rate
// limited, other 4xx are definitive failures, 5xx are connection-class
// and retryable.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook builds a webhook provider.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (w *Webhook) Name() string { return w.cfg.Name }

// Execute POSTs the action payload to the configured URL.
func (w *Webhook) Execute(ctx context.Context, act *action.Action) (*action.ProviderResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(act.Payload))
	if err != nil {
		return nil, Wrap(KindConfiguration, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Action-Id", act.ID)
	req.Header.Set("X-Action-Type", act.ActionType)
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, Wrap(KindTimeout, err, "request timed out")
		}
		return nil, Wrap(KindConnection, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Wrap(KindConnection, err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &action.ProviderResponse{
			Status:  action.StatusSuccess,
			Body:    string(body),
			Headers: map[string]string{"status": resp.Status},
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Errorf(KindRateLimited, "endpoint returned 429")
	case resp.StatusCode >= 500:
		return nil, Errorf(KindConnection, "endpoint returned %s", resp.Status)
	default:
		return nil, Errorf(KindExecutionFailed, "endpoint returned %s: %s", resp.Status, string(body))
	}
}

// HealthCheck HEADs the endpoint.
func (w *Webhook) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.cfg.URL, nil)
	if err != nil {
		return Wrap(KindConfiguration, err, "build health request")
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Wrap(KindConnection, err, "health request failed")
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Errorf(KindConnection, "health check returned %s", resp.Status)
	}
	return nil
}
