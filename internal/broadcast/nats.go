package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject turn events are published to.
const DefaultSubject = "butterfly.turns"

const closeFlushTimeout = 2 * time.Second

// #region nats

// NATSPublisher publishes JSON events to a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to url. An empty subject uses DefaultSubject.
func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	opts = append([]nats.Option{nats.Name("butterfly-controller")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Subject returns the publish subject.
func (p *NATSPublisher) Subject() string { return p.subject }

// Publish sends ev as one JSON message.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.nc.FlushTimeout(closeFlushTimeout)
	p.nc.Close()
	if err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// #endregion nats
