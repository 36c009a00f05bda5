package directory

// Directory is an ordered set of Services, deduplicated under Service.Equal.
// A node holds two Directories: one for servers (locally bound endpoints,
// plus every remotely announced server) and one for clients (locally
// created clients only — clients are never announced, so a client
// Directory never gains remote entries).
//
// Directory is not safe for concurrent use. mDNS browse callbacks arrive
// on responder goroutines; discovery.Discovery marshals them onto the
// node's event loop with looptimer.Loop.Post before they ever reach a
// Directory, so every Directory mutation and read in this codebase happens
// on one goroutine. Directory deliberately does not also take a mutex —
// mixing a dedicated owning goroutine with ad-hoc locking invites the
// reader to trust whichever guard they happen to notice first.
type Directory struct {
	nodeUUID string
	services []Service
}

// NewDirectory creates an empty Directory owned by the given node.
func NewDirectory(nodeUUID string) *Directory {
	return &Directory{nodeUUID: nodeUUID}
}

// Add inserts service unless an equal one is already present. Returns
// false on a rejected duplicate.
func (d *Directory) Add(service Service) bool {
	if d.Contains(service) {
		return false
	}
	d.services = append(d.services, service)
	return true
}

// Contains reports whether an equal Service (under the 5-tuple equality)
// is already present.
func (d *Directory) Contains(service Service) bool {
	for _, s := range d.services {
		if s.Equal(service) {
			return true
		}
	}
	return false
}

// Remove deletes the first Service matching both topic and node UUID.
// This is the only key mDNS withdrawal ever recovers (the full record is
// no longer queryable on removal), so two local endpoints that happen to
// share a topic on one node are not distinguishable by this key alone —
// an accepted, unresolved corner case.
func (d *Directory) Remove(topic, nodeUUID string) bool {
	for i, s := range d.services {
		if s.Topic == topic && s.NodeUUID == nodeUUID {
			d.services = append(d.services[:i], d.services[i+1:]...)
			return true
		}
	}
	return false
}

// All returns a snapshot of the services currently held. The returned
// slice is a copy; mutating it does not affect the Directory.
func (d *Directory) All() []Service {
	out := make([]Service, len(d.services))
	copy(out, d.services)
	return out
}

// Len reports how many services the Directory currently holds.
func (d *Directory) Len() int {
	return len(d.services)
}

// ByTopic returns every Service in the directory matching topic, in
// insertion order.
func (d *Directory) ByTopic(topic string) []Service {
	var out []Service
	for _, s := range d.services {
		if s.Topic == topic {
			out = append(out, s)
		}
	}
	return out
}
