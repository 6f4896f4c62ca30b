package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/resilience"
)

// NATSPublisher publishes envelopes on "<prefix>.<kind>" subjects.
type NATSPublisher struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
}

type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
}

func NewNATSPublisher(url, prefix string, opts NATSOptions) (*NATSPublisher, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	conn, err := nats.Connect(
		url,
		nats.Name("ledgerdrop"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, executor: opts.Executor}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, kind Kind, payload any) error {
	data, err := Encode(kind, payload, time.Now())
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, kind)
	publish := func(context.Context) error {
		return p.conn.Publish(subject, data)
	}
	if p.executor == nil {
		err = publish(ctx)
	} else {
		err = p.executor.Execute(ctx, "nats.publish", publish, classifyNATSError)
	}
	if err != nil {
		if classifyNATSError(err) == resilience.Transient {
			return model.WrapError(model.ErrTemporary, "nats publish", err)
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func classifyNATSError(err error) resilience.Outcome {
	if resilience.Cancelled(err) {
		return resilience.Benign
	}
	if resilience.IsCircuitOpen(err) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.Transient
	}
	return resilience.Fatal
}
