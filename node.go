// Package colugo implements a brokerless publish/subscribe and
// request/reply messaging fabric for LAN peers, discovered over mDNS. A
// Node owns one event loop, one mDNS identity, and any number of
// Publisher, Subscriber, ReplyServer and RequestClient endpoints.
package colugo

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/discovery"
	"github.com/pickledgator/colugo/endpoint"
	"github.com/pickledgator/colugo/internal/config"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
)

// state is the node's lifecycle: init -> running -> stopping -> stopped.
type state int

const (
	stateInit state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Node is the top-level handle: one event loop, one mDNS identity, and the
// endpoints created on it. Methods that touch endpoint or directory state
// (AddPublisher, AddSubscriber, ...) are safe to call from any goroutine
// before Start; once the loop is running, call them from within a
// callback already running on the loop, or marshal them onto it with
// AddDelayedCallback.
type Node struct {
	name     string
	uuid     string
	cfg      *config.Config
	metrics  *metrics.Metrics
	loop     *looptimer.Loop
	logger   *slog.Logger
	disc     *discovery.Discovery
	removeSig func()

	mu          sync.Mutex
	state       state
	publishers  map[string]*endpoint.Publisher
	subscribers map[string]*endpoint.Subscriber
	replyServers map[string]*endpoint.ReplyServer
	requestClients map[string]*endpoint.RequestClient
	timers      []*looptimer.Timer
}

// ErrDuplicateLocalEndpoint is returned when a node tries to create a
// second Publisher or ReplyServer for a topic it already serves: only one
// local server per (topic, kind) may exist at a time.
var ErrDuplicateLocalEndpoint = fmt.Errorf("colugo: a local server endpoint for this topic already exists")

// New creates a Node with the default configuration.
func New(name string) (*Node, error) {
	return NewWithConfig(name, config.Default())
}

// NewWithConfig creates a Node using an explicit, already-validated
// configuration.
func NewWithConfig(name string, cfg *config.Config) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	id := uuid.NewString()
	n := &Node{
		name:           name,
		uuid:           id,
		cfg:            cfg,
		metrics:        metrics.New(),
		loop:           looptimer.New(),
		logger:         slog.With("component", "node", "name", name, "node_uuid", id),
		publishers:     make(map[string]*endpoint.Publisher),
		subscribers:    make(map[string]*endpoint.Subscriber),
		replyServers:   make(map[string]*endpoint.ReplyServer),
		requestClients: make(map[string]*endpoint.RequestClient),
	}
	n.disc = discovery.New(n.loop, n.metrics, id, n.onServiceAdded, n.onServiceRemoved)
	return n, nil
}

// UUID reports the node's process-unique identifier.
func (n *Node) UUID() string { return n.uuid }

// Metrics returns the node's Prometheus collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// AddPublisher creates and binds a Publisher for topic, announcing it over
// mDNS. Returns ErrDuplicateLocalEndpoint if this node already publishes
// that topic.
func (n *Node) AddPublisher(topic string) (*endpoint.Publisher, error) {
	n.mu.Lock()
	if _, exists := n.publishers[topic]; exists {
		n.mu.Unlock()
		return nil, ErrDuplicateLocalEndpoint
	}
	n.mu.Unlock()

	pub, addr, port, err := endpoint.NewPublisher(n.loop, n.metrics, topic)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.publishers[topic] = pub
	n.mu.Unlock()

	svc := directory.New(topic, addr, port, directory.Pub, n.uuid)
	if err := n.disc.RegisterServer(svc); err != nil {
		return nil, fmt.Errorf("announce publisher %q: %w", topic, err)
	}
	return pub, nil
}

// AddReplyServer creates and binds a ReplyServer for topic, announcing it
// over mDNS. Returns ErrDuplicateLocalEndpoint if this node already serves
// that topic.
func (n *Node) AddReplyServer(topic string, callback func(request []byte, reply endpoint.ReplyFunc)) (*endpoint.ReplyServer, error) {
	n.mu.Lock()
	if _, exists := n.replyServers[topic]; exists {
		n.mu.Unlock()
		return nil, ErrDuplicateLocalEndpoint
	}
	n.mu.Unlock()

	rep, addr, port, err := endpoint.NewReplyServer(n.loop, n.metrics, topic, callback)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.replyServers[topic] = rep
	n.mu.Unlock()

	svc := directory.New(topic, addr, port, directory.Rep, n.uuid)
	if err := n.disc.RegisterServer(svc); err != nil {
		return nil, fmt.Errorf("announce reply server %q: %w", topic, err)
	}
	return rep, nil
}

// AddSubscriber creates a Subscriber for topic and connects it to every
// Publisher already discovered for that topic; future discoveries connect
// automatically. onConnect, if non-nil, is called once per publisher
// connected, including ones discovered later.
func (n *Node) AddSubscriber(topic string, onMessage func([]byte), onConnect func(address string, port int)) (*endpoint.Subscriber, error) {
	sub, err := endpoint.NewSubscriber(n.loop, n.metrics, topic, onMessage, onConnect)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.subscribers[topic] = sub
	n.mu.Unlock()

	n.disc.RegisterClient(directory.New(topic, "", 0, directory.Sub, n.uuid))

	for _, s := range n.disc.Servers() {
		if s.Topic == topic && s.Kind == directory.Pub {
			if err := sub.ConnectTo(s.Address, s.Port); err != nil {
				n.logger.Warn("failed to connect subscriber to already-discovered publisher", "topic", topic, "err", err)
			}
		}
	}
	return sub, nil
}

// AddRequestClient creates a RequestClient for topic and connects it to
// every ReplyServer already discovered for that topic; future discoveries
// connect automatically.
func (n *Node) AddRequestClient(topic string, onConnect func(address string, port int)) (*endpoint.RequestClient, error) {
	client, err := endpoint.NewRequestClient(n.loop, n.metrics, topic, onConnect)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.requestClients[topic] = client
	n.mu.Unlock()

	n.disc.RegisterClient(directory.New(topic, "", 0, directory.Req, n.uuid))

	for _, s := range n.disc.Servers() {
		if s.Topic == topic && s.Kind == directory.Rep {
			if err := client.ConnectTo(s.Address, s.Port); err != nil {
				n.logger.Warn("failed to connect request client to already-discovered reply server", "topic", topic, "err", err)
			}
		}
	}
	return client, nil
}

// AddRepeater schedules callback to run every delay, on the event loop,
// until the node stops or the returned Timer is stopped early.
func (n *Node) AddRepeater(delay time.Duration, callback func()) *looptimer.Timer {
	timer := looptimer.NewTimer(n.loop, delay, callback)
	n.mu.Lock()
	n.timers = append(n.timers, timer)
	n.mu.Unlock()
	timer.Start()
	return timer
}

// AddDelayedCallback schedules callback to run once, delay from now, on
// the event loop.
func (n *Node) AddDelayedCallback(delay time.Duration, callback func()) *looptimer.OneShot {
	return looptimer.ScheduleAfter(n.loop, delay, callback)
}

// onServiceAdded runs on the loop when discovery observes a new remote
// server. Matching local clients connect to it; servers discovered for
// topics nothing local cares about are still recorded in the directory,
// just never dialed.
func (n *Node) onServiceAdded(service directory.Service) {
	switch service.Kind {
	case directory.Pub:
		n.mu.Lock()
		sub, ok := n.subscribers[service.Topic]
		n.mu.Unlock()
		if ok {
			if err := sub.ConnectTo(service.Address, service.Port); err != nil {
				n.logger.Warn("failed to connect subscriber to discovered publisher", "topic", service.Topic, "err", err)
			}
		}
	case directory.Rep:
		n.mu.Lock()
		client, ok := n.requestClients[service.Topic]
		n.mu.Unlock()
		if ok {
			if err := client.ConnectTo(service.Address, service.Port); err != nil {
				n.logger.Warn("failed to connect request client to discovered reply server", "topic", service.Topic, "err", err)
			}
		}
	}
}

// onServiceRemoved runs on the loop when a remote server goes stale. No
// local endpoint is automatically disconnected — a dangling TCP connection
// to a server that has left the network is harmless and self-heals on its
// own when traffic to it next times out.
func (n *Node) onServiceRemoved(topic, nodeUUID string) {
	n.logger.Warn("remote service withdrawn, not auto-disconnecting any local endpoint", "topic", topic, "node_uuid", nodeUUID)
}

// Start runs the node's event loop. Blocking; returns when Stop is called
// (directly, or via SIGINT/SIGTERM). Calling Start more than once, or
// after Stop, is a programming error.
func (n *Node) Start() {
	n.mu.Lock()
	n.state = stateRunning
	n.mu.Unlock()

	n.removeSig = looptimer.NotifyStopOnSignal(n.loop, os.Interrupt, syscall.SIGTERM)
	n.logger.Info("node started")
	n.loop.Run()

	// A signal stops only the loop; run the rest of the teardown here.
	n.mu.Lock()
	signalled := n.state == stateRunning
	n.mu.Unlock()
	if signalled {
		n.Stop()
	}

	n.mu.Lock()
	n.state = stateStopped
	n.mu.Unlock()
	n.logger.Info("node stopped")
}

// Stop tears the node down: browse listeners stop, announced servers are
// withdrawn, every owned Timer stops, every endpoint's socket closes, and
// finally the event loop itself stops. Safe to call from any goroutine,
// including a callback already running on the loop.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.state == stateStopping || n.state == stateStopped {
		n.mu.Unlock()
		return
	}
	n.state = stateStopping
	timers := n.timers
	publishers := n.publishers
	subscribers := n.subscribers
	replyServers := n.replyServers
	requestClients := n.requestClients
	n.mu.Unlock()

	if n.removeSig != nil {
		n.removeSig()
	}

	n.disc.Stop()

	for _, t := range timers {
		t.Stop()
	}

	// Each endpoint's Stop tears down a real socket; closing them
	// concurrently keeps Stop's latency down to the slowest one instead of
	// the sum.
	var g errgroup.Group
	for _, p := range publishers {
		p := p
		g.Go(func() error { return p.Stop() })
	}
	for _, s := range subscribers {
		s := s
		g.Go(func() error { return s.Stop() })
	}
	for _, r := range replyServers {
		r := r
		g.Go(func() error { return r.Stop() })
	}
	for _, c := range requestClients {
		c := c
		g.Go(func() error { return c.Stop() })
	}
	if err := g.Wait(); err != nil {
		n.logger.Warn("error closing one or more endpoints during shutdown", "err", err)
	}

	n.loop.Stop()
}
