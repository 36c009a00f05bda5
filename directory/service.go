// Package directory holds the Service record and the Directory set that
// together describe what endpoints exist, locally and on the network.
package directory

import (
	"fmt"
	"regexp"
)

// Kind tags the four endpoint variants. Servers (Pub, Rep) bind and
// announce; clients (Sub, Req) connect to addresses learned from the
// directory.
type Kind int

const (
	// Pub is a publish server: binds, announces, sends to all subscribers.
	Pub Kind = 1
	// Sub is a subscribe client: connects, receives everything.
	Sub Kind = 2
	// Req is a request client: connects, sends one request at a time.
	Req Kind = 3
	// Rep is a reply server: binds, announces, answers one request at a time.
	Rep Kind = 4
)

// String renders the kind for logs and metric labels. TXT records carry
// the decimal code instead (see Service.TXT).
func (k Kind) String() string {
	switch k {
	case Pub:
		return "PUB"
	case Sub:
		return "SUB"
	case Req:
		return "REQ"
	case Rep:
		return "REP"
	default:
		return "?"
	}
}

// IsServer reports whether this kind binds and announces (Pub, Rep) rather
// than connects (Sub, Req).
func (k Kind) IsServer() bool {
	return k == Pub || k == Rep
}

// KindFromInt maps the decimal TXT-record encoding back to a Kind. Returns
// 0 (the zero Kind, which is never valid) if value isn't 1-4.
func KindFromInt(value int) Kind {
	switch value {
	case 1, 2, 3, 4:
		return Kind(value)
	default:
		return 0
	}
}

// mdnsServiceType is the fixed mDNS service type every colugo node
// announces and browses on.
const mdnsServiceType = "_colugo._tcp.local."

// topicPattern matches the topic grammar: alphanumerics, '.', '/' only.
// '_' is reserved for the mDNS name encoding (see NameFor).
var topicPattern = regexp.MustCompile(`^[A-Za-z0-9./]+$`)

// ErrInvalidTopic is returned when a topic string violates the topic
// grammar.
var ErrInvalidTopic = fmt.Errorf("invalid topic")

// ValidateTopic checks a topic string against the topic grammar
// ([A-Za-z0-9./]+, no underscores).
func ValidateTopic(topic string) error {
	if topic == "" || !topicPattern.MatchString(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// Service is the directory record describing one endpoint: its network
// identity, and for local entries, a back-reference to the live socket.
type Service struct {
	Topic   string
	Address string
	Port    int
	Kind    Kind
	// NodeUUID is the process-unique identifier of the owning node.
	NodeUUID string
	// SocketHandle is an opaque back-reference to the live transport
	// socket. Present for local entries only; nil for remote entries
	// learned from mDNS (the live socket isn't serializable onto the
	// wire, so a remote Service never carries one).
	SocketHandle interface{}
}

// New builds a Service. SocketHandle is left nil; set it directly on
// local entries.
func New(topic, address string, port int, kind Kind, nodeUUID string) Service {
	return Service{Topic: topic, Address: address, Port: port, Kind: kind, NodeUUID: nodeUUID}
}

// Equal implements the directory's 5-tuple equality: topic, address,
// port, kind and node UUID must all match. SocketHandle is deliberately
// excluded — two Services describing the same network endpoint are equal
// regardless of which process happens to observe a live socket for it.
func (s Service) Equal(o Service) bool {
	return s.Topic == o.Topic && s.Address == o.Address && s.Port == o.Port &&
		s.Kind == o.Kind && s.NodeUUID == o.NodeUUID
}

// MDNSName derives the mDNS instance name for this Service:
// "_<topic>._<node_uuid>._colugo._tcp.local.".
func (s Service) MDNSName() string {
	return NameFor(s.Topic, s.NodeUUID)
}

// NameFor derives the mDNS instance name for a (topic, node_uuid) pair
// without requiring a full Service.
func NameFor(topic, nodeUUID string) string {
	return fmt.Sprintf("_%s._%s.%s", topic, nodeUUID, mdnsServiceType)
}

// ServiceType is the fixed mDNS service type colugo registers and browses.
func ServiceType() string { return mdnsServiceType }

// String renders a Service for logs, matching the source's
// "Service(topic): address@port | KIND@node_uuid" shape.
func (s Service) String() string {
	return fmt.Sprintf("Service(%s): %s@%d | %s@%s", s.Topic, s.Address, s.Port, s.Kind, s.NodeUUID)
}

// TXT encodes the Service's identity as mDNS TXT properties: topic,
// socket_type (decimal string) and node_uuid.
func (s Service) TXT() map[string]string {
	return map[string]string{
		"topic":       s.Topic,
		"socket_type": fmt.Sprintf("%d", int(s.Kind)),
		"node_uuid":   s.NodeUUID,
	}
}

// FromTXT builds a remote Service from an address, port and the TXT
// property map a browse callback observed. Normalizes the socket_type
// boolean-encoding glitch: some mDNS libraries round-trip the TXT value
// "1" as the boolean true; both are accepted and treated as Pub.
func FromTXT(address string, port int, txt map[string]string) (Service, error) {
	topic, ok := txt["topic"]
	if !ok || topic == "" {
		return Service{}, fmt.Errorf("mDNS TXT record missing topic")
	}
	nodeUUID, ok := txt["node_uuid"]
	if !ok || nodeUUID == "" {
		return Service{}, fmt.Errorf("mDNS TXT record missing node_uuid")
	}
	raw, ok := txt["socket_type"]
	if !ok {
		return Service{}, fmt.Errorf("mDNS TXT record missing socket_type")
	}

	kind, err := kindFromTXTValue(raw)
	if err != nil {
		return Service{}, err
	}

	return Service{
		Topic:    topic,
		Address:  address,
		Port:     port,
		Kind:     kind,
		NodeUUID: nodeUUID,
	}, nil
}

// kindFromTXTValue normalizes a socket_type TXT value. "true" and "1" both
// map to Pub; "2"/"3"/"4" map to Sub/Req/Rep per the decimal encoding.
func kindFromTXTValue(raw string) (Kind, error) {
	if raw == "true" {
		return Pub, nil
	}
	if raw == "false" {
		return 0, fmt.Errorf("socket_type encoded as boolean false has no valid mapping")
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("socket_type %q is not a recognized value: %w", raw, err)
	}
	kind := KindFromInt(n)
	if kind == 0 {
		return 0, fmt.Errorf("socket_type %q is not a recognized value", raw)
	}
	return kind, nil
}
