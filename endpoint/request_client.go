package endpoint

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
	"github.com/pickledgator/colugo/wiresocket"
)

// DefaultReplyTimeout is used by Send when the caller passes a zero
// timeout.
const DefaultReplyTimeout = 2000 * time.Millisecond

// RequestClient is a REQ client: connects to every ReplyServer discovered
// for its topic. One request is normally outstanding at a time, but Send
// runs in relaxed mode, not strict mode: a second Send before the first
// resolves is accepted, not rejected, abandoning whatever reply the first
// might still get. The underlying transport load-balances a request across
// whichever connected server is ready; colugo does not implement its own
// round-robin policy on top of that.
type RequestClient struct {
	topic     string
	sock      *wiresocket.Socket
	onConnect func(address string, port int)
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	connected map[string]bool
	pending   bool
	closed    bool
}

// NewRequestClient creates a REQ socket for topic. onConnect, if non-nil,
// is called once per distinct address:port the client connects to.
func NewRequestClient(loop *looptimer.Loop, m *metrics.Metrics, topic string, onConnect func(address string, port int)) (*RequestClient, error) {
	if err := directory.ValidateTopic(topic); err != nil {
		return nil, err
	}
	sock := wiresocket.New(loop, directory.Req, m)
	sock.SetTopic(topic)
	return &RequestClient{
		topic:     topic,
		sock:      sock,
		onConnect: onConnect,
		logger:    slog.With("component", "request_client", "topic", topic),
		metrics:   m,
		connected: make(map[string]bool),
	}, nil
}

// Topic reports the topic this RequestClient was created for.
func (c *RequestClient) Topic() string { return c.topic }

// ConnectTo dials a newly discovered ReplyServer at address:port.
func (c *RequestClient) ConnectTo(address string, port int) error {
	c.mu.Lock()
	key := connKey(address, port)
	if c.connected[key] {
		c.mu.Unlock()
		return nil
	}
	c.connected[key] = true
	c.mu.Unlock()

	if err := c.sock.Connect(address, port); err != nil {
		c.mu.Lock()
		delete(c.connected, key)
		c.mu.Unlock()
		return err
	}
	if c.onConnect != nil {
		c.onConnect(address, port)
	}
	return nil
}

// Send transmits message and arms onReply to run when a response arrives.
// If no reply arrives within timeout (DefaultReplyTimeout if zero),
// onTimeout runs instead and the underlying socket is recycled, per the
// request/reply reliability policy. Send is relaxed, not guarded: calling
// it again while a previous request is still awaiting its reply is
// accepted, not rejected — the prior request's transport is recycled
// (re-dialing every server this client has ever connected to) before the
// new one goes out, so whatever reply the abandoned request might still
// receive arrives on a socket that no longer exists and is silently
// dropped. Returns ErrNoServer if no server has ever been connected.
func (c *RequestClient) Send(message interface{}, onReply func(payload []byte), timeout time.Duration, onTimeout func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.connected) == 0 {
		c.mu.Unlock()
		return ErrNoServer
	}
	relaxed := c.pending
	c.pending = true
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	if relaxed {
		c.logger.Debug("send while a reply is still pending, recycling transport (relaxed mode)")
		if err := c.sock.Recycle(); err != nil {
			c.mu.Lock()
			c.pending = false
			c.mu.Unlock()
			return err
		}
	}

	if err := c.sock.Send(message); err != nil {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		return err
	}

	c.sock.ReceiveWithTimeout(func(payload []byte) {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		if onReply != nil {
			onReply(payload)
		}
	}, timeout, func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		c.metrics.RequestTimeout(c.topic)
		if onTimeout != nil {
			onTimeout()
		}
	})
	return nil
}

// Pending reports whether a request is currently awaiting a reply or
// timeout.
func (c *RequestClient) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Stop closes the underlying socket. Idempotent.
func (c *RequestClient) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.logger.Info("request client stopped")
	return c.sock.Close()
}
