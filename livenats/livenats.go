// Package livenats provides an embedded NATS server with JetStream as a
// pub/sub backend for live applications.
package livenats

import (
	"context"
	"fmt"

	"github.com/creatormvp/live"
	"github.com/delaneyj/toolbelt/embeddednats"
	"github.com/nats-io/nats.go"
)

// NATS implements live.PubSub using an embedded NATS server with JetStream.
type NATS struct {
	server *embeddednats.Server
	nc     *nats.Conn
	js     nats.JetStreamContext
}

var _ live.PubSub = (*NATS)(nil)

// New starts an embedded NATS server with JetStream enabled, storing data in
// dataDir. The server shuts down when ctx is cancelled or Close is called.
func New(ctx context.Context, dataDir string) (*NATS, error) {
	ns, err := embeddednats.New(ctx, embeddednats.WithDirectory(dataDir))
	if err != nil {
		return nil, fmt.Errorf("livenats: start server: %w", err)
	}
	ns.WaitForServer()

	nc, err := ns.Client()
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("livenats: connect client: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		ns.Close()
		return nil, fmt.Errorf("livenats: init jetstream: %w", err)
	}

	return &NATS{server: ns, nc: nc, js: js}, nil
}

// Publish sends data on subject with a core NATS publish.
func (n *NATS) Publish(subject string, data []byte) error {
	return n.nc.Publish(subject, data)
}

// Subscribe creates a core NATS subscription for fan-out delivery.
func (n *NATS) Subscribe(subject string, handler func(data []byte)) (live.Subscription, error) {
	sub, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("livenats: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// EnsureStream creates or updates a JetStream stream capturing subjects so
// published messages are retained for replay.
func (n *NATS) EnsureStream(name string, subjects ...string) error {
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		MaxMsgs:   10_000,
	}
	if _, err := n.js.StreamInfo(name); err == nil {
		_, err = n.js.UpdateStream(cfg)
		if err != nil {
			return fmt.Errorf("livenats: update stream %s: %w", name, err)
		}
		return nil
	}
	if _, err := n.js.AddStream(cfg); err != nil {
		return fmt.Errorf("livenats: add stream %s: %w", name, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (n *NATS) Flush() error {
	return n.nc.Flush()
}

// Close shuts down the client connection and the embedded server.
func (n *NATS) Close() error {
	n.nc.Close()
	return n.server.Close()
}
