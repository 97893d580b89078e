/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/xid"

	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/httpserver/middleware"
	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/mailbox"
)

// Session attributes set for every HTTP request.
const (
	AttrMethod     = "method"
	AttrQuery      = "query"
	AttrHeader     = "header"
	AttrRemoteAddr = "remote_addr"
	AttrRequestID  = "request_id"
)

var errResponseWritten = errors.New("response is already written")

// DispatchHandlerOpts represents options for DispatchHandler.
type DispatchHandlerOpts struct {
	// MaxBodySize limits the request body. 0 means no limit.
	MaxBodySize int64

	// OrderingHeader names the request header whose value selects an ordering domain.
	// Requests without the header are dispatched unordered.
	OrderingHeader string
}

// DispatchHandler is an http.Handler that passes every request to the dispatcher.
// The URL path is the route key and the body is the payload.
type DispatchHandler struct {
	dispatcher *dispatch.Dispatcher
	opts       DispatchHandlerOpts
	group      *mailbox.Group
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(dispatcher *dispatch.Dispatcher, opts DispatchHandlerOpts) (*DispatchHandler, error) {
	h := &DispatchHandler{dispatcher: dispatcher, opts: opts}
	if opts.OrderingHeader != "" {
		group, err := mailbox.NewGroup(dispatcher.Executor())
		if err != nil {
			return nil, err
		}
		h.group = group
	}
	return h, nil
}

// ServeHTTP dispatches the HTTP request and waits until it is handled or the client goes away.
func (h *DispatchHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.opts.MaxBodySize > 0 {
		body = http.MaxBytesReader(rw, r.Body, h.opts.MaxBodySize)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			middleware.RespondText(rw, http.StatusRequestEntityTooLarge, "request body is too large")
			return
		}
		if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
			logger.Warn("failed to read request body", log.Error(err))
		}
		middleware.RespondText(rw, http.StatusBadRequest, "failed to read request body")
		return
	}

	sess := newHTTPSession(rw, r)
	if h.group != nil {
		if orderKey := r.Header.Get(h.opts.OrderingHeader); orderKey != "" {
			sess.seq = h.group.Sequencer(orderKey)
		}
	}
	defer sess.finish()

	select {
	case <-h.dispatcher.Dispatch(r.Context(), sess, r.URL.Path, payload):
	case <-r.Context().Done():
	}
}

// httpSession is a dispatch.Session over a single HTTP exchange.
// It accepts one response message. It is closed when ServeHTTP returns.
type httpSession struct {
	id  string
	rw  http.ResponseWriter
	req *http.Request
	seq dispatch.Sequencer

	mu      sync.Mutex
	attrs   map[string]interface{}
	written bool
	closed  bool
}

var _ dispatch.Session = (*httpSession)(nil)
var _ dispatch.Sequenced = (*httpSession)(nil)

func newHTTPSession(rw http.ResponseWriter, r *http.Request) *httpSession {
	requestID := middleware.GetRequestIDFromContext(r.Context())
	id := requestID
	if id == "" {
		id = xid.New().String()
	}
	return &httpSession{
		id:  id,
		rw:  rw,
		req: r,
		attrs: map[string]interface{}{
			AttrMethod:     r.Method,
			AttrQuery:      r.URL.Query(),
			AttrHeader:     r.Header,
			AttrRemoteAddr: r.RemoteAddr,
			AttrRequestID:  requestID,
		},
	}
}

func (s *httpSession) ID() string {
	return s.id
}

func (s *httpSession) Attribute(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

func (s *httpSession) SetAttribute(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
}

func (s *httpSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.req.Context().Err() == nil
}

// Sequencer returns nil when the request carries no ordering key.
func (s *httpSession) Sequencer() dispatch.Sequencer {
	return s.seq
}

func (s *httpSession) WriteAsync(msg dispatch.Message) <-chan error {
	result := make(chan error, 1)
	result <- s.write(msg)
	return result
}

func (s *httpSession) write(msg dispatch.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dispatch.ErrSessionClosed
	}
	if s.written {
		return errResponseWritten
	}
	s.written = true

	header := s.rw.Header()
	if msg.ContentType != "" {
		header.Set("Content-Type", msg.ContentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(msg.Body)))
	if msg.Close {
		header.Set("Connection", "close")
	}
	status := msg.Status
	if status == 0 {
		status = http.StatusOK
	}
	s.rw.WriteHeader(status)
	_, err := s.rw.Write(msg.Body)
	return err
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// finish completes the exchange. The response writer must not be used after ServeHTTP returns.
func (s *httpSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.written && s.req.Context().Err() == nil {
		s.written = true
		s.rw.WriteHeader(http.StatusNoContent)
	}
	s.closed = true
}
