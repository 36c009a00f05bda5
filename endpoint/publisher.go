// Package endpoint implements the four endpoint kinds a Node can create:
// Publisher, Subscriber, ReplyServer and RequestClient. Each wraps one
// wiresocket.Socket and the directory.Service that announces or discovers
// it.
package endpoint

import (
	"fmt"
	"log/slog"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
	"github.com/pickledgator/colugo/wiresocket"
)

// Publisher is a PUB server: binds once, announces itself, and broadcasts
// every Send to every connected Subscriber. There is no delivery
// confirmation and no backlog for subscribers that connect late.
type Publisher struct {
	topic  string
	sock   *wiresocket.Socket
	logger *slog.Logger
	closed bool
}

// NewPublisher binds a PUB socket for topic. The caller is responsible for
// registering the resulting directory.Service (via Node) once Bind
// succeeds, since only the Node knows the owning node UUID.
func NewPublisher(loop *looptimer.Loop, m *metrics.Metrics, topic string) (*Publisher, string, int, error) {
	if err := directory.ValidateTopic(topic); err != nil {
		return nil, "", 0, err
	}
	sock := wiresocket.New(loop, directory.Pub, m)
	sock.SetTopic(topic)
	addr, port, err := sock.Bind()
	if err != nil {
		sock.Close()
		return nil, "", 0, fmt.Errorf("publisher %q: %w", topic, err)
	}
	p := &Publisher{
		topic:  topic,
		sock:   sock,
		logger: slog.With("component", "publisher", "topic", topic),
	}
	return p, addr, port, nil
}

// Topic reports the topic this Publisher was created for.
func (p *Publisher) Topic() string { return p.topic }

// Send broadcasts message (a string or []byte) to every connected
// subscriber. Returns ErrClosed if the Publisher has been stopped.
func (p *Publisher) Send(message interface{}) error {
	if p.closed {
		return ErrClosed
	}
	return p.sock.Send(message)
}

// Stop closes the underlying socket. Idempotent.
func (p *Publisher) Stop() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("publisher stopped")
	return p.sock.Close()
}
