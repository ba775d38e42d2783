package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// NATSBus implements Bus over a real NATS connection.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATS connects to cfg.URL and returns a NATSBus. Callers should fall
// back to New() (the no-op bus) when cfg.URL is empty rather than calling
// this constructor.
func NewNATS(cfg config.NATSConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if log != nil && err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if log != nil {
				log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			}
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

var _ Bus = (*NATSBus)(nil)

func (b *NATSBus) Publish(_ context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			if b.log != nil {
				b.log.Error("nats event decode failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return
		}
		if err := handler(context.Background(), &event); err != nil && b.log != nil {
			b.log.Error("nats event handler failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub != nil && s.sub.IsValid()
}
