// Package wiresocket adapts one brokerless-messaging socket (PUB, SUB, REQ
// or REP) to the node's event loop, and implements the request/reply
// reliability policy: correlation, relaxed sends, timeout, and recycling.
package wiresocket

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
)

const (
	minPort         = 10001
	maxPort         = 20000
	maxBindAttempts = 100

	// reqSendTimeout is the REQ socket's finite send timeout: a send that
	// can't be queued within this window fails rather than blocking the
	// loop forever.
	reqSendTimeout = 1000 * time.Millisecond

	// unreachableProbeAddr is a TEST-NET-3 address (RFC 5737): globally
	// routable-looking but never assigned, so dialing it never actually
	// reaches anything. Opening a UDP "connection" to it is just a way to
	// ask the kernel which local interface address it would use.
	unreachableProbeAddr = "203.0.113.1:9"

	fallbackLocalAddr = "127.0.0.1"
)

// Frame is bookkeeping for one payload that crossed a Socket, used only to
// feed metrics and tests. It is never placed on the wire — the wire format
// remains whatever the underlying messaging socket kind emits.
type Frame struct {
	Topic   string
	Payload []byte
	Sent    time.Time
}

// peer is one address:port a connect-based socket (SUB or REQ) has dialed.
// Recycle replays this list against the fresh transport socket so a
// recycled client doesn't come back up peerless.
type peer struct {
	address string
	port    int
}

// Socket wraps one underlying PUB/SUB/REQ/REP socket and arms it onto a
// looptimer.Loop: every completion callback this type invokes runs on that
// loop, never on the goroutine that received the network frame.
type Socket struct {
	loop    *looptimer.Loop
	kind    directory.Kind
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	sock    zmq4.Socket
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	bound   bool
	address string
	port    int
	topic   string

	handler       func([]byte)
	generation    uint64
	pendingTimer  *looptimer.OneShot
	readerStarted bool
	peers         []peer

	lastSent     *Frame
	lastReceived *Frame
}

// New creates a Socket of the given kind on loop. The underlying transport
// socket is constructed immediately; Bind or Connect must still be called
// before it can send or receive.
func New(loop *looptimer.Loop, kind directory.Kind, m *metrics.Metrics) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		loop:    loop,
		kind:    kind,
		metrics: m,
		logger:  slog.With("component", "wiresocket", "kind", kind.String()),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.sock = newTransportSocket(ctx, kind)
	return s
}

// newTransportSocket constructs the underlying zmq4 socket for kind. REQ
// gets a finite send timeout so a stuck send fails instead of blocking the
// loop forever. zmq4 exposes neither REQ_CORRELATE nor REQ_RELAXED, so
// colugo emulates both itself rather than relying on those libzmq-specific
// socket options: Recycle (this file) discards the old transport and
// re-dials its known peers, which is what makes a stale reply un-matchable
// and a second send possible; RequestClient.Send (in package endpoint)
// drives Recycle on a relaxed resend, and arm's generation counter below
// makes sure a timeout scheduled for an earlier arming never fires against
// a later one.
func newTransportSocket(ctx context.Context, kind directory.Kind) zmq4.Socket {
	switch kind {
	case directory.Pub:
		return zmq4.NewPub(ctx)
	case directory.Sub:
		return zmq4.NewSub(ctx)
	case directory.Req:
		return zmq4.NewReq(ctx, zmq4.WithTimeout(reqSendTimeout))
	case directory.Rep:
		return zmq4.NewRep(ctx)
	default:
		panic(fmt.Sprintf("wiresocket: unknown kind %v", kind))
	}
}

// Kind reports the socket's kind.
func (s *Socket) Kind() directory.Kind { return s.kind }

// SetTopic attaches a topic label to the Frame bookkeeping this Socket
// records. Endpoints call this once, at construction.
func (s *Socket) SetTopic(topic string) {
	s.mu.Lock()
	s.topic = topic
	s.mu.Unlock()
}

// LastSent returns the Frame recorded by the most recent successful Send,
// or nil if none has happened yet. For tests and metrics only.
func (s *Socket) LastSent() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// LastReceived returns the Frame recorded by the most recently delivered
// payload, or nil if none has arrived yet. For tests and metrics only.
func (s *Socket) LastReceived() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceived
}

// pickLocalAddress opens a UDP socket to an unreachable external address
// and reads back the chosen source address, falling back to 127.0.0.1 if
// the kernel can't pick one (e.g. no network interfaces at all).
func pickLocalAddress() string {
	conn, err := net.Dial("udp", unreachableProbeAddr)
	if err != nil {
		return fallbackLocalAddr
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return fallbackLocalAddr
	}
	return addr.IP.String()
}

// Bind picks a local IPv4 address and binds to a random free port in
// [10001, 20000], retrying up to 100 times. Returns ErrBindExhausted if no
// port in the range is free.
func (s *Socket) Bind() (address string, port int, err error) {
	addr := pickLocalAddress()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil {
		return "", 0, ErrClosed
	}

	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		candidate := minPort + rand.Intn(maxPort-minPort+1)
		ep := fmt.Sprintf("tcp://%s:%d", addr, candidate)
		if err := s.sock.Listen(ep); err == nil {
			s.address, s.port, s.bound = addr, candidate, true
			return addr, candidate, nil
		}
	}
	return "", 0, fmt.Errorf("%w: [%d, %d] after %d attempts", ErrBindExhausted, minPort, maxPort, maxBindAttempts)
}

// Connect dials the given address and port. Safe to call more than once on
// the same SUB/REQ socket to multiplex connections; idempotence is not
// guaranteed at the transport level (reconnecting to an already-connected
// peer is a harmless no-op), but this type remembers every distinct
// address:port it dials so Recycle can restore them on a fresh socket.
func (s *Socket) Connect(address string, port int) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return ErrClosed
	}
	ep := fmt.Sprintf("tcp://%s:%d", address, port)
	if err := sock.Dial(ep); err != nil {
		return fmt.Errorf("wiresocket: connect %s: %w", ep, err)
	}
	s.mu.Lock()
	s.rememberPeerLocked(address, port)
	s.mu.Unlock()
	return nil
}

// rememberPeerLocked records address:port as dialed, if not already known.
// Callers must hold s.mu.
func (s *Socket) rememberPeerLocked(address string, port int) {
	for _, p := range s.peers {
		if p.address == address && p.port == port {
			return
		}
	}
	s.peers = append(s.peers, peer{address: address, port: port})
}

// Disconnect tears down the underlying socket's connections. Terminal;
// double-disconnect is safe.
func (s *Socket) Disconnect() error {
	return s.closeUnderlying()
}

// Unbind releases the bound address. Terminal; double-unbind is safe.
func (s *Socket) Unbind() error {
	return s.closeUnderlying()
}

// Close disconnects if connected, then releases the socket. Terminal;
// double-close is safe.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.stopPendingTimer()
	return s.closeUnderlying()
}

func (s *Socket) closeUnderlying() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil {
		return nil
	}
	err := s.sock.Close()
	s.sock = nil
	s.bound = false
	return err
}

func (s *Socket) stopPendingTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingTimer != nil {
		s.pendingTimer.Cancel()
		s.pendingTimer = nil
	}
}

// Send transmits message, which must be a string (sent as UTF-8) or a
// []byte. Completes synchronously against the outbound queue; it never
// blocks on the network.
func (s *Socket) Send(message interface{}) error {
	var data []byte
	switch m := message.(type) {
	case string:
		data = []byte(m)
	case []byte:
		data = m
	default:
		return fmt.Errorf("%w: got %T", ErrUnsupportedMessage, message)
	}

	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return ErrClosed
	}
	if err := sock.Send(zmq4.NewMsg(data)); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSent = &Frame{Topic: s.topic, Payload: data, Sent: time.Now()}
	s.mu.Unlock()
	return nil
}

// Receive arms the socket so the next received frame invokes handler on
// the loop. Each call supersedes any prior arming.
func (s *Socket) Receive(handler func(payload []byte)) {
	s.arm(handler, 0, nil)
}

// ReceiveWithTimeout arms the socket like Receive, but schedules a
// one-shot timer for timeout. If it fires before a frame arrives,
// onTimeout runs and the socket is recycled. Passing onTimeout as nil is
// allowed — recycling still happens, there's just no extra callback.
func (s *Socket) ReceiveWithTimeout(handler func(payload []byte), timeout time.Duration, onTimeout func()) {
	s.arm(handler, timeout, onTimeout)
}

func (s *Socket) arm(handler func([]byte), timeout time.Duration, onTimeout func()) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.handler = handler
	if s.pendingTimer != nil {
		s.pendingTimer.Cancel()
		s.pendingTimer = nil
	}
	if timeout > 0 {
		s.pendingTimer = looptimer.ScheduleAfter(s.loop, timeout, func() {
			s.handleTimeout(gen, onTimeout)
		})
	}
	needReader := !s.readerStarted
	s.readerStarted = true
	sock := s.sock
	s.mu.Unlock()

	if needReader && sock != nil {
		go s.readLoop(sock)
	}
}

// readLoop blocks on Recv until the underlying socket errors (typically
// because it was closed, directly or via recycling), posting each frame
// to the loop. It holds no reference to a particular arming generation:
// whichever handler is current when the frame is processed on the loop is
// the one that runs, which is what makes a later Receive/ReceiveWithTimeout
// call supersede an earlier one.
func (s *Socket) readLoop(sock zmq4.Socket) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			return
		}
		payload := msg.Bytes()
		s.loop.Post(func() {
			s.mu.Lock()
			handler := s.handler
			// An arming covers one frame; the handler re-arms if it wants
			// the next.
			s.handler = nil
			// Completing this arming invalidates any in-flight timeout
			// scheduled for it, even if that timeout has already fired
			// and is sitting in the loop's task queue behind us.
			s.generation++
			if s.pendingTimer != nil {
				s.pendingTimer.Cancel()
				s.pendingTimer = nil
			}
			s.lastReceived = &Frame{Topic: s.topic, Payload: payload, Sent: time.Now()}
			s.mu.Unlock()
			if handler != nil {
				handler(payload)
			}
		})
	}
}

func (s *Socket) handleTimeout(gen uint64, onTimeout func()) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.pendingTimer = nil
	s.mu.Unlock()

	if onTimeout != nil {
		onTimeout()
	}
	s.metrics.SocketRecycled(s.kind.String())
	if err := s.Recycle(); err != nil {
		s.logger.Error("recycle after receive timeout failed", "err", err)
	}
}

// Recycle closes the socket and creates a fresh one of the same kind and
// options. A server socket (bound) re-binds to the same address:port it
// previously held; a connect-based socket (SUB or REQ) re-dials every
// address:port Connect was ever called with, so a recycled client comes
// back up already peered instead of waiting for discovery to rediscover
// servers it already knew about.
func (s *Socket) Recycle() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	oldSock := s.sock
	wasBound := s.bound
	addr, port := s.address, s.port
	s.mu.Unlock()

	if oldSock != nil {
		oldSock.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	newSock := newTransportSocket(ctx, s.kind)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = ctx, cancel
	s.sock = newSock
	s.bound = false
	s.readerStarted = false
	s.generation++
	if s.pendingTimer != nil {
		s.pendingTimer.Cancel()
		s.pendingTimer = nil
	}
	s.mu.Unlock()

	if wasBound {
		ep := fmt.Sprintf("tcp://%s:%d", addr, port)
		s.mu.Lock()
		sock := s.sock
		s.mu.Unlock()
		if err := sock.Listen(ep); err != nil {
			return fmt.Errorf("wiresocket: recycle: re-bind %s: %w", ep, err)
		}
		s.mu.Lock()
		s.bound = true
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	peers := append([]peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		ep := fmt.Sprintf("tcp://%s:%d", p.address, p.port)
		s.mu.Lock()
		sock := s.sock
		s.mu.Unlock()
		if sock == nil {
			break
		}
		if err := sock.Dial(ep); err != nil {
			return fmt.Errorf("wiresocket: recycle: re-dial %s: %w", ep, err)
		}
	}
	return nil
}

// Address returns the locally bound address and port, valid after a
// successful Bind.
func (s *Socket) Address() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.port
}
