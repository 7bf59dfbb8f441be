package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/metrics"
)

const (
	EventTypeHeader = "X-Crux-Event"
	DeliveryHeader  = "X-Crux-Delivery"
)

var ErrCircuitOpen = errors.New("webhook: endpoint circuit open")

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// FailureThreshold consecutive failures open the circuit for
	// RecoveryTime.
	FailureThreshold int
	RecoveryTime     time.Duration
}

// Publisher posts each event to one endpoint. It satisfies events.Publisher.
type Publisher struct {
	url     string
	secret  string
	client  *http.Client
	breaker *breaker
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = time.Minute
	}
	return &Publisher{
		url:     cfg.URL,
		secret:  cfg.Secret,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(cfg.FailureThreshold, cfg.RecoveryTime),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	if !p.breaker.allow() {
		metrics.RecordWebhookDelivery("circuit_open")
		return ErrCircuitOpen
	}

	env := NewEnvelope(e)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	if err := p.deliver(ctx, env, body); err != nil {
		p.breaker.failure()
		metrics.RecordWebhookDelivery("failed")
		return err
	}
	p.breaker.success()
	metrics.RecordWebhookDelivery("delivered")
	return nil
}

func (p *Publisher) deliver(ctx context.Context, env Envelope, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, env.Type)
	req.Header.Set(DeliveryHeader, env.ID)
	if p.secret != "" {
		now := time.Now()
		req.Header.Set(SignatureHeader, FormatSignature(Sign(body, p.secret, now), now))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver %s: %w", env.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: deliver %s: endpoint returned %d", env.Type, resp.StatusCode)
	}
	return nil
}

// HealthCheck reports an open circuit as unhealthy.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if p.breaker.current() == stateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.CloseIdleConnections()
}
