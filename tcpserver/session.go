/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/mailbox"
)

// Session attributes set for every TCP connection.
const (
	AttrRemoteAddr = "remote_addr"
	AttrLocalAddr  = "local_addr"
)

type outgoing struct {
	frame  Frame
	close  bool
	result chan error
}

// session is a dispatch.Session over one TCP connection.
// Requests of a connection are handled one at a time in arrival order.
// Frames are written by a single writer goroutine in WriteAsync call order.
type session struct {
	id           string
	conn         net.Conn
	logger       log.FieldLogger
	maxFrameSize int
	writeTimeout time.Duration
	mailbox      *mailbox.Mailbox

	mu      sync.Mutex
	attrs   map[string]interface{}
	closing bool

	outbox    chan outgoing
	closeReq  chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

var _ dispatch.Session = (*session)(nil)
var _ dispatch.Sequenced = (*session)(nil)

func newSession(conn net.Conn, executor mailbox.Executor, logger log.FieldLogger, cfg *Config) (*session, error) {
	mb, err := mailbox.New(executor)
	if err != nil {
		return nil, err
	}
	id := xid.New().String()
	return &session{
		id:           id,
		conn:         conn,
		logger:       logger.With(log.String("session", id), log.String("remote_addr", conn.RemoteAddr().String())),
		maxFrameSize: int(cfg.Limits.MaxFrameSize),
		writeTimeout: time.Duration(cfg.Timeouts.Write),
		mailbox:      mb,
		attrs: map[string]interface{}{
			AttrRemoteAddr: conn.RemoteAddr().String(),
			AttrLocalAddr:  conn.LocalAddr().String(),
		},
		outbox:   make(chan outgoing, cfg.Limits.WriteQueueSize),
		closeReq: make(chan struct{}),
		closed:   make(chan struct{}),
	}, nil
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Attribute(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

func (s *session) SetAttribute(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
}

func (s *session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

func (s *session) Sequencer() dispatch.Sequencer {
	return s.mailbox
}

// WriteAsync blocks while the write queue is full.
func (s *session) WriteAsync(msg dispatch.Message) <-chan error {
	result := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		result <- dispatch.ErrSessionClosed
		return result
	}
	s.outbox <- outgoing{
		frame:  Frame{Status: StatusOf(msg.Status), Key: msg.Key, Body: msg.Body},
		close:  msg.Close,
		result: result,
	}
	return result
}

// Close stops accepting writes. The connection is closed once the already queued frames are written.
// It does not wait for that, see done.
func (s *session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closeReq) })
	return nil
}

// done is closed when the writer has finished and the connection is closed.
func (s *session) done() <-chan struct{} {
	return s.closed
}

func (s *session) writeLoop() {
	defer close(s.closed)

	w := bufio.NewWriter(s.conn)
	var scratch []byte
	var pending []chan error
	var failure error

	fail := func(err error) {
		if failure != nil {
			return
		}
		failure = err
		if closeErr := s.conn.Close(); closeErr != nil {
			s.logger.Debug("failed to close connection", log.Error(closeErr))
		}
	}

	flush := func() {
		if failure == nil && w.Buffered() != 0 {
			s.setWriteDeadline()
			if err := w.Flush(); err != nil {
				s.logger.Warn("failed to write frames", log.Error(err))
				fail(err)
			}
		}
		for _, result := range pending {
			result <- failure
		}
		pending = pending[:0]
	}

	write := func(out outgoing) {
		if failure != nil {
			out.result <- failure
			return
		}
		var err error
		if scratch, err = AppendFrame(scratch[:0], out.frame, s.maxFrameSize); err != nil {
			out.result <- err
			return
		}
		s.setWriteDeadline()
		if _, err = w.Write(scratch); err != nil {
			s.logger.Warn("failed to write frame", log.Error(err))
			fail(err)
		}
		pending = append(pending, out.result)
		if out.close {
			flush()
			fail(dispatch.ErrSessionClosed)
			go func() { _ = s.Close() }()
		}
	}

	for {
		select {
		case out := <-s.outbox:
			write(out)
			if len(s.outbox) == 0 {
				flush()
			}
		case <-s.closeReq:
			// No writer can enqueue anymore, drain what is left.
			for {
				select {
				case out := <-s.outbox:
					write(out)
				default:
					flush()
					fail(dispatch.ErrSessionClosed)
					return
				}
			}
		}
	}
}

func (s *session) setWriteDeadline() {
	if s.writeTimeout <= 0 {
		return
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		s.logger.Debug("failed to set write deadline", log.Error(err))
	}
}
