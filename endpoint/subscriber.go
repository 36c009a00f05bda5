package endpoint

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
	"github.com/pickledgator/colugo/wiresocket"
)

// Subscriber is a SUB client: connects to every Publisher discovered for
// its topic and delivers every message received from any of them to
// onMessage. There is no per-publisher backpressure and no filtering below
// the topic granularity colugo already dispatches on.
type Subscriber struct {
	topic     string
	sock      *wiresocket.Socket
	onMessage func(payload []byte)
	onConnect func(address string, port int)
	logger    *slog.Logger

	mu        sync.Mutex
	connected map[string]bool
	closed    bool
}

// NewSubscriber creates a SUB socket for topic. onMessage is called on the
// node's event loop for every received payload. onConnect, if non-nil, is
// called once per distinct address:port the Subscriber connects to.
func NewSubscriber(loop *looptimer.Loop, m *metrics.Metrics, topic string, onMessage func([]byte), onConnect func(address string, port int)) (*Subscriber, error) {
	if err := directory.ValidateTopic(topic); err != nil {
		return nil, err
	}
	sock := wiresocket.New(loop, directory.Sub, m)
	sock.SetTopic(topic)
	s := &Subscriber{
		topic:     topic,
		sock:      sock,
		onMessage: onMessage,
		onConnect: onConnect,
		logger:    slog.With("component", "subscriber", "topic", topic),
		connected: make(map[string]bool),
	}
	sock.Receive(s.onReceive)
	return s, nil
}

func (s *Subscriber) onReceive(payload []byte) {
	if s.onMessage != nil {
		s.onMessage(payload)
	}
	// PUB/SUB delivery is unbounded: re-arm immediately so the next
	// message isn't dropped waiting for a fresh Receive call.
	s.sock.Receive(s.onReceive)
}

// Topic reports the topic this Subscriber was created for.
func (s *Subscriber) Topic() string { return s.topic }

// ConnectTo dials a newly discovered Publisher at address:port. A no-op if
// already connected to that address:port (colugo has no way to query the
// underlying socket's connection set, so this tracking is done here).
func (s *Subscriber) ConnectTo(address string, port int) error {
	s.mu.Lock()
	key := connKey(address, port)
	if s.connected[key] {
		s.mu.Unlock()
		return nil
	}
	s.connected[key] = true
	s.mu.Unlock()

	if err := s.sock.Connect(address, port); err != nil {
		s.mu.Lock()
		delete(s.connected, key)
		s.mu.Unlock()
		return err
	}
	if s.onConnect != nil {
		s.onConnect(address, port)
	}
	return nil
}

// Stop closes the underlying socket. Idempotent.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.logger.Info("subscriber stopped")
	return s.sock.Close()
}

func connKey(address string, port int) string {
	return fmt.Sprintf("%s:%d", address, port)
}
