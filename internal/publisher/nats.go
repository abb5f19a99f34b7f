package publisher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// jetStream is the subset of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes pool events to JetStream under <subject>.<event type>.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetStream
	subject string
	service string
}

// NewNATS creates a JetStream publisher, creating the stream when stream is
// non-empty and does not exist yet.
func NewNATS(nc *nats.Conn, stream, subject, service string) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if stream != "" {
		if err := EnsureStream(js, stream, subject); err != nil {
			return nil, err
		}
	}
	return &NATSPublisher{nc: nc, js: js, subject: subject, service: service}, nil
}

// EnsureStream creates a stream capturing subject.> unless it already exists.
func EnsureStream(jsm nats.JetStreamManager, stream, subject string) error {
	_, err := jsm.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", stream, err)
	}
	_, err = jsm.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject + ".>"},
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", stream, err)
	}
	return nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Send publishes one event. The event id doubles as the JetStream message id,
// so redeliveries inside the dedup window are dropped by the server.
func (p *NATSPublisher) Send(event model.PoolEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.subject + "." + event.Type,
		Data:    data,
		Header: nats.Header{
			nats.MsgIdHdr:   []string{event.ID},
			"event_type":    []string{event.Type},
			"credential_id": []string{event.CredentialID},
			"service":       []string{p.service},
			"content_type":  []string{"application/json"},
		},
	}
	_, err = p.js.PublishMsg(msg)
	return err
}

func (p *NATSPublisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
