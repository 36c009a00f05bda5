// Package discovery advertises local server endpoints over mDNS and
// browses the LAN for remote ones, feeding additions and removals into a
// directory.Directory.
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
)

const (
	// browseInterval is how often a fresh browse round starts. Each round
	// uses its own resolver and context rather than one long-lived Browse
	// call, since a single long-lived browse can silently stall on some
	// platforms.
	browseInterval = 10 * time.Second

	// browseTimeout bounds each round so a stalled multicast socket can't
	// wedge the browse loop.
	browseTimeout = 5 * time.Second

	// staleAfter is how long a remote service can go unseen before it's
	// withdrawn from the directory and onRemove fires. mDNS goodbye
	// packets are not reliably observed by every resolver implementation,
	// so colugo reaps on silence instead of waiting for one.
	staleAfter = 2 * time.Minute

	// reapInterval is how often the stale-service reaper runs.
	reapInterval = 30 * time.Second

	// mdnsServiceProto and mdnsDomain are the DNS-SD service type and
	// domain passed to zeroconf.Register/Browse. Kept separate from
	// directory.ServiceType(), which bakes the domain into a single
	// dotted string for building instance names instead.
	mdnsServiceProto = "_colugo._tcp"
	mdnsDomain       = "local."
)

// Discovery owns mDNS advertisement of local server endpoints and a
// periodic browse of the network for everyone else's. Every callback it
// invokes (onAdd, onRemove) runs on the supplied loop, never on a browse
// goroutine.
type Discovery struct {
	loop     *looptimer.Loop
	metrics  *metrics.Metrics
	nodeUUID string
	logger   *slog.Logger

	onAdd    func(directory.Service)
	onRemove func(topic string, nodeUUID string)

	servers *directory.Directory
	clients *directory.Directory

	mu         sync.Mutex
	mdnsServer map[string]*zeroconf.Server // mdns name -> announced server
	lastSeen   map[string]time.Time        // mdns name -> last time browse saw it

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Discovery for nodeUUID and starts its browse and reaper
// loops. onAdd fires (on loop) whenever a new remote server is seen;
// onRemove fires when one goes stale.
func New(loop *looptimer.Loop, m *metrics.Metrics, nodeUUID string, onAdd func(directory.Service), onRemove func(topic, nodeUUID string)) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Discovery{
		loop:       loop,
		metrics:    m,
		nodeUUID:   nodeUUID,
		logger:     slog.With("component", "discovery", "node_uuid", nodeUUID),
		onAdd:      onAdd,
		onRemove:   onRemove,
		servers:    directory.NewDirectory(nodeUUID),
		clients:    directory.NewDirectory(nodeUUID),
		mdnsServer: make(map[string]*zeroconf.Server),
		lastSeen:   make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}

	d.wg.Add(2)
	go d.browseLoop()
	go d.reapLoop()
	return d
}

// RegisterServer announces a local server endpoint (Pub or Rep) over mDNS
// and adds it to the server directory. Must be called on the loop.
func (d *Discovery) RegisterServer(service directory.Service) error {
	d.servers.Add(service)
	d.metrics.ServiceRegistered(service.Kind.String())
	d.metrics.SetDirectorySize("servers", d.servers.Len())

	txt := txtSlice(service.TXT())
	srv, err := zeroconf.Register(
		mdnsInstance(service.Topic, service.NodeUUID),
		mdnsServiceProto,
		mdnsDomain,
		service.Port,
		txt,
		nil,
	)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.mdnsServer[service.MDNSName()] = srv
	d.mu.Unlock()
	return nil
}

// UnregisterServer withdraws a previously registered local server.
func (d *Discovery) UnregisterServer(service directory.Service) {
	d.mu.Lock()
	srv, ok := d.mdnsServer[service.MDNSName()]
	delete(d.mdnsServer, service.MDNSName())
	d.mu.Unlock()

	if ok {
		srv.Shutdown()
	}
	d.servers.Remove(service.Topic, service.NodeUUID)
	d.metrics.ServiceWithdrawn(service.Kind.String())
	d.metrics.SetDirectorySize("servers", d.servers.Len())
}

// UnregisterAllServers withdraws every server this node has announced.
// Called during node shutdown.
func (d *Discovery) UnregisterAllServers() {
	for _, s := range d.servers.All() {
		if s.NodeUUID == d.nodeUUID {
			d.UnregisterServer(s)
		}
	}
}

// RegisterClient adds a local client endpoint (Sub or Req) to the client
// directory. Clients are never announced over mDNS.
func (d *Discovery) RegisterClient(service directory.Service) {
	d.clients.Add(service)
	d.metrics.ServiceRegistered(service.Kind.String())
	d.metrics.SetDirectorySize("clients", d.clients.Len())
}

// Servers returns the current server directory's contents.
func (d *Discovery) Servers() []directory.Service { return d.servers.All() }

// Clients returns the current client directory's contents.
func (d *Discovery) Clients() []directory.Service { return d.clients.All() }

// StopListening stops the browse loop without tearing down announced
// services, mirroring the shutdown ordering of withdrawing listeners
// before unregistering servers.
func (d *Discovery) StopListening() {
	d.cancel()
	d.wg.Wait()
}

// Stop stops browsing and then withdraws every announced server, in that
// order: browse listeners first, then withdrawal, mirroring a Node's
// shutdown sequence. Safe to call once, during node shutdown.
func (d *Discovery) Stop() {
	d.StopListening()
	d.UnregisterAllServers()
}

func (d *Discovery) browseLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()

	d.runBrowseCycle()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runBrowseCycle()
		}
	}
}

func (d *Discovery) runBrowseCycle() {
	browseCtx, browseCancel := context.WithTimeout(d.ctx, browseTimeout)
	defer browseCancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		if err := zeroconf.Browse(browseCtx, mdnsServiceProto, mdnsDomain, entries); err != nil && d.ctx.Err() == nil {
			d.logger.Debug("browse round error", "err", err)
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			d.handleEntry(entry)
		case <-browseCtx.Done():
			return
		}
	}
}

func (d *Discovery) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return
	}
	txt := txtMap(entry.Text)
	service, err := directory.FromTXT(entry.AddrIPv4[0].String(), entry.Port, txt)
	if err != nil {
		d.logger.Debug("ignoring malformed mDNS service", "instance", entry.Instance, "err", err)
		return
	}
	if service.NodeUUID == d.nodeUUID {
		return
	}

	d.mu.Lock()
	d.lastSeen[service.MDNSName()] = time.Now()
	d.mu.Unlock()

	d.loop.Post(func() {
		if d.servers.Contains(service) {
			return
		}
		d.servers.Add(service)
		d.metrics.ServiceDiscovered(service.Kind.String())
		d.metrics.SetDirectorySize("servers", d.servers.Len())
		d.logger.Debug("service discovered", "service", service.String())
		if d.onAdd != nil {
			d.onAdd(service)
		}
	})
}

func (d *Discovery) reapLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.reapStale()
		}
	}
}

func (d *Discovery) reapStale() {
	now := time.Now()
	var stale []string
	d.mu.Lock()
	for name, seen := range d.lastSeen {
		if now.Sub(seen) > staleAfter {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(d.lastSeen, name)
	}
	d.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	d.loop.Post(func() {
		for _, name := range stale {
			topic, nodeUUID, ok := parseMDNSName(name)
			if !ok || nodeUUID == d.nodeUUID {
				continue
			}
			if d.servers.Remove(topic, nodeUUID) {
				d.logger.Debug("service withdrawn (stale)", "topic", topic, "node_uuid", nodeUUID)
				d.metrics.SetDirectorySize("servers", d.servers.Len())
				if d.onRemove != nil {
					d.onRemove(topic, nodeUUID)
				}
			}
		}
	})
}

// mdnsInstance derives a unique zeroconf instance name for a (topic,
// node_uuid) pair. Remote peers recover the real topic/kind/node_uuid from
// the TXT record (see directory.FromTXT), not from this string, so it only
// needs to be unique, not parseable.
func mdnsInstance(topic, nodeUUID string) string {
	return strings.ReplaceAll(topic, "/", "-") + "_" + nodeUUID
}

// parseMDNSName recovers (topic, nodeUUID) from an instance name shaped
// "_<topic>._<node_uuid>._colugo._tcp.local.". Assumes the rigid structure
// colugo itself always produces; anything else fails the split.
func parseMDNSName(name string) (topic, nodeUUID string, ok bool) {
	trimmed := strings.TrimSuffix(name, "."+directory.ServiceType())
	parts := strings.SplitN(trimmed, "._", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	topic = strings.TrimPrefix(parts[0], "_")
	nodeUUID = parts[1]
	if topic == "" || nodeUUID == "" {
		return "", "", false
	}
	return topic, nodeUUID, true
}

func txtSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func txtMap(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
