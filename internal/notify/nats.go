package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject invalidations are published on.
const DefaultSubject = "gf.advice.invalidate"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL     string        // NATS server URL (e.g., "nats://localhost:4222")
	Subject string        // Subject to publish on (default: DefaultSubject)
	Timeout time.Duration // Connection timeout
	Logger  *slog.Logger
}

// NATSBus delivers invalidations across processes over core NATS. Delivery
// is at-most-once; a missed invalidation only leaves advice stale until the
// next one for the same entity.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials the server in cfg.
func ConnectNATS(cfg NATSConfig) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("gf"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{conn: nc, subject: cfg.Subject, logger: logger}, nil
}

// Publish sends inv to every process subscribed on the bus subject.
func (b *NATSBus) Publish(ctx context.Context, inv Invalidation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe delivers every invalidation received on the subject to h.
// Malformed messages are logged and dropped.
func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var inv Invalidation
		if err := json.Unmarshal(msg.Data, &inv); err != nil {
			b.logger.Warn("dropping malformed invalidation", "subject", msg.Subject, "error", err)
			return
		}
		h(inv)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug("unsubscribe", "error", err)
		}
	}, nil
}

// Flush blocks until the server has processed everything published so far.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
