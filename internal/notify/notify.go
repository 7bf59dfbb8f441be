// Package notify assembles the climb status event sinks a process publishes
// to from its configuration.
package notify

import (
	"fmt"

	"github.com/Vielheim/crux/internal/config"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/health"
	"github.com/Vielheim/crux/internal/webhook"
)

// Open connects every configured sink: NATS when NATS_URL is set and the
// status webhook when WEBHOOK_URL is set. With neither it returns
// events.Nop. A non-nil checker gets a health check per sink.
func Open(cfg *config.Config, checker *health.Checker) (events.Publisher, error) {
	var sinks events.Multi

	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		sinks = append(sinks, nc)
		if checker != nil {
			checker.WithComponent("nats", nc)
		}
	}

	if cfg.WebhookURL != "" {
		wh, err := webhook.NewPublisher(webhook.Config{
			URL:     cfg.WebhookURL,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.WebhookTimeout,
		})
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, wh)
		if checker != nil {
			checker.WithComponent("webhook", wh)
		}
	}

	switch len(sinks) {
	case 0:
		return events.Nop{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
