package endpoint

import (
	"log/slog"

	"github.com/pickledgator/colugo/directory"
	"github.com/pickledgator/colugo/internal/metrics"
	"github.com/pickledgator/colugo/looptimer"
	"github.com/pickledgator/colugo/wiresocket"
)

// ReplyFunc sends the answer to the request currently being handled. It may
// be called at most once per invocation of a ReplyServer's callback; a REP
// socket cannot accept a new request until the in-flight one has been
// replied to.
type ReplyFunc func(response interface{}) error

// ReplyServer is a REP server: binds once, announces itself, and answers
// one request at a time. It never receives a second request until the
// current one's ReplyFunc has been called, matching the strict lockstep a
// REP socket requires.
type ReplyServer struct {
	topic    string
	sock     *wiresocket.Socket
	callback func(request []byte, reply ReplyFunc)
	logger   *slog.Logger
	closed   bool
}

// NewReplyServer binds a REP socket for topic. callback is invoked on the
// node's event loop for every request; it must eventually call the
// ReplyFunc it's given before another request can be served.
func NewReplyServer(loop *looptimer.Loop, m *metrics.Metrics, topic string, callback func([]byte, ReplyFunc)) (*ReplyServer, string, int, error) {
	if err := directory.ValidateTopic(topic); err != nil {
		return nil, "", 0, err
	}
	sock := wiresocket.New(loop, directory.Rep, m)
	sock.SetTopic(topic)
	addr, port, err := sock.Bind()
	if err != nil {
		sock.Close()
		return nil, "", 0, err
	}
	r := &ReplyServer{
		topic:    topic,
		sock:     sock,
		callback: callback,
		logger:   slog.With("component", "reply_server", "topic", topic),
	}
	sock.Receive(r.onReceive)
	return r, addr, port, nil
}

func (r *ReplyServer) onReceive(request []byte) {
	replied := false
	reply := func(response interface{}) error {
		if replied {
			return ErrClosed
		}
		replied = true
		err := r.sock.Send(response)
		// A REP socket only accepts the next request after replying to
		// this one.
		r.sock.Receive(r.onReceive)
		return err
	}
	if r.callback != nil {
		r.callback(request, reply)
	}
}

// Topic reports the topic this ReplyServer was created for.
func (r *ReplyServer) Topic() string { return r.topic }

// Stop closes the underlying socket. Idempotent.
func (r *ReplyServer) Stop() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.logger.Info("reply server stopped")
	return r.sock.Close()
}
