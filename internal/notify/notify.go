// Package notify fans transfer events out to the interested parties.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/logic/capture"
)

// Multi publishes every event to each of its notifiers in order. Nil entries
// are skipped.
type Multi []capture.Notifier

func (m Multi) Publish(ev capture.TransferEvent) {
	for _, n := range m {
		if n != nil {
			n.Publish(ev)
		}
	}
}

// NATSPublisher publishes transfer events as JSON on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
	log     zerolog.Logger
}

// NewNATSPublisher publishes on an existing connection, which the caller
// keeps ownership of.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject, log: debug.WithComponent("notify")}
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	log := debug.WithComponent("notify")
	opts = append([]nats.Option{
		nats.Name("ptpshot"),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject)
	p.owned = true
	return p, nil
}

// Publish does not block on the network: nats.go buffers outgoing messages.
// Failures are logged.
func (p *NATSPublisher) Publish(ev capture.TransferEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("marshal transfer event")
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", p.subject).Msg("publish transfer event")
	}
}

// Close flushes pending messages and closes the connection if the publisher
// owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Debug().Err(err).Msg("flush")
	}
	p.nc.Close()
	return nil
}
