package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/navigation"
)

// Events receives the navigation lifecycle reported by the extension.
type Events interface {
	BeforeNavigate(ev navigation.NavigationEvent)
	CreatedNavigationTarget(sourceID, targetID string)
	BeforeRequest(ev navigation.RequestEvent)
	Redirected(ev navigation.RedirectEvent)
	Committed(ev navigation.CommitEvent)
	Remove(contextID string)
}

// Bridge is the native host side of the extension connection. It
// implements navigation.Host: intercepted bodies arrive as RESPONSE_DATA
// events and are written back with FILTER_WRITE commands.
type Bridge struct {
	conn   *Conn
	logger *slog.Logger

	mu      sync.Mutex
	filters map[string]*bridgeFilter
	pending map[string]chan MatchersPayload
}

var _ navigation.Host = (*Bridge)(nil)

// BridgeOption is a functional option for configuring a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger for the bridge.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge creates a Bridge over conn.
func NewBridge(conn *Conn, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		conn:    conn,
		logger:  slog.Default(),
		filters: make(map[string]*bridgeFilter),
		pending: make(map[string]chan MatchersPayload),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Intercept attaches a filter to requestID. Body chunks the extension
// reports for the request are delivered through it.
func (b *Bridge) Intercept(requestID string) (capture.Filter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.filters[requestID]; ok {
		return nil, fmt.Errorf("%w: request %s already intercepted", capture.ErrUnsupported, requestID)
	}
	f := &bridgeFilter{bridge: b, requestID: requestID, ready: make(chan struct{}, 1)}
	b.filters[requestID] = f
	return f, nil
}

// RequestMatchers asks the page in contextID for its matchers and waits
// for the correlated MATCHERS_RESPONSE.
func (b *Bridge) RequestMatchers(ctx context.Context, contextID string) ([]matcher.Directive, string, error) {
	id := uuid.NewString()
	ch := make(chan MatchersPayload, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	m, err := NewMessage(TypeMatchersRequest, ContextPayload{ContextID: contextID})
	if err != nil {
		return nil, "", err
	}
	m.ID = id
	if err := b.conn.Send(m); err != nil {
		return nil, "", err
	}

	select {
	case pl := <-ch:
		return pl.Matchers, pl.URL, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Navigate asks the extension to load url in contextID.
func (b *Bridge) Navigate(_ context.Context, contextID, url string) error {
	m, err := NewMessage(TypeNavigate, NavigatePayload{ContextID: contextID, URL: url})
	if err != nil {
		return err
	}
	return b.conn.Send(m)
}

// Serve reads messages until the extension disconnects or ctx is done.
// Lifecycle events go to events; correlated matcher responses complete
// pending requests; everything else is handed to router.
func (b *Bridge) Serve(ctx context.Context, events Events, router *Router) error {
	defer b.closeFilters()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		m, err := b.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := b.dispatch(events, router, m); err != nil {
			b.logger.Warn("message rejected", "type", m.Type, "error", err)
		}
	}
}

func (b *Bridge) dispatch(events Events, router *Router, m Message) error {
	switch m.Type {
	case TypeNavigationStart:
		var ev navigation.NavigationEvent
		if err := m.Decode(&ev); err != nil {
			return err
		}
		events.BeforeNavigate(ev)

	case TypeContextCreated:
		var pl ContextCreatedPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		events.CreatedNavigationTarget(pl.SourceID, pl.ContextID)

	case TypeRequestStart:
		var ev navigation.RequestEvent
		if err := m.Decode(&ev); err != nil {
			return err
		}
		events.BeforeRequest(ev)

	case TypeResponseData:
		var pl ResponseDataPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		return b.deliver(pl.RequestID, pl.Data)

	case TypeResponseEnd, TypeResponseError:
		var pl ResponseEndPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		var endErr error
		if m.Type == TypeResponseError {
			endErr = fmt.Errorf("response failed: %s", pl.Error)
		}
		b.finish(pl.RequestID, endErr)

	case TypeRedirect:
		var ev navigation.RedirectEvent
		if err := m.Decode(&ev); err != nil {
			return err
		}
		events.Redirected(ev)

	case TypeCommitted:
		var ev navigation.CommitEvent
		if err := m.Decode(&ev); err != nil {
			return err
		}
		events.Committed(ev)

	case TypeContextRemoved:
		var pl ContextPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		events.Remove(pl.ContextID)
		router.hub.Remove(pl.ContextID)

	case TypeMatchersResponse:
		if m.ID != "" && b.resolve(m) {
			return nil
		}
		return router.Handle(b.conn, m)

	default:
		return router.Handle(b.conn, m)
	}
	return nil
}

// resolve completes a pending matcher request. It reports false when no
// request with m's id is waiting.
func (b *Bridge) resolve(m Message) bool {
	b.mu.Lock()
	ch, ok := b.pending[m.ID]
	delete(b.pending, m.ID)
	b.mu.Unlock()
	if !ok {
		return false
	}
	var pl MatchersPayload
	if err := m.Decode(&pl); err != nil {
		b.logger.Warn("malformed matcher response", "error", err)
	}
	ch <- pl
	return true
}

// deliver hands a body chunk to the request's filter. Chunks for requests
// nobody intercepts are written straight back.
func (b *Bridge) deliver(requestID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.filters[requestID]; ok {
		f.push(data)
		return nil
	}
	if err := b.sendWrite(requestID, data); err != nil {
		return err
	}
	return b.sendDisconnect(requestID)
}

func (b *Bridge) finish(requestID string, err error) {
	b.mu.Lock()
	f, ok := b.filters[requestID]
	b.mu.Unlock()
	if ok {
		f.end(err)
	}
}

func (b *Bridge) closeFilters() {
	b.mu.Lock()
	fs := make([]*bridgeFilter, 0, len(b.filters))
	for _, f := range b.filters {
		fs = append(fs, f)
	}
	b.mu.Unlock()
	for _, f := range fs {
		f.end(io.ErrUnexpectedEOF)
	}
}

// disconnect removes the filter and flushes chunks that arrived after the
// last Read, keeping them ahead of any later chunk.
func (b *Bridge) disconnect(f *bridgeFilter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filters[f.requestID] == f {
		delete(b.filters, f.requestID)
	}
	var errs []error
	for _, chunk := range f.drain() {
		errs = append(errs, b.sendWrite(f.requestID, chunk))
	}
	errs = append(errs, b.sendDisconnect(f.requestID))
	return errors.Join(errs...)
}

func (b *Bridge) sendWrite(requestID string, data []byte) error {
	m, err := NewMessage(TypeFilterWrite, ResponseDataPayload{RequestID: requestID, Data: data})
	if err != nil {
		return err
	}
	return b.conn.Send(m)
}

func (b *Bridge) sendDisconnect(requestID string) error {
	m, err := NewMessage(TypeFilterDisconnect, ResponseEndPayload{RequestID: requestID})
	if err != nil {
		return err
	}
	return b.conn.Send(m)
}

// bridgeFilter queues body chunks received from the extension.
type bridgeFilter struct {
	bridge    *Bridge
	requestID string
	ready     chan struct{}

	mu           sync.Mutex
	queue        [][]byte
	ended        bool
	err          error
	disconnected bool
}

func (f *bridgeFilter) push(data []byte) {
	f.mu.Lock()
	f.queue = append(f.queue, data)
	f.mu.Unlock()
	f.wake()
}

func (f *bridgeFilter) end(err error) {
	f.mu.Lock()
	if !f.ended {
		f.ended = true
		f.err = err
	}
	f.mu.Unlock()
	f.wake()
}

func (f *bridgeFilter) wake() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// drain marks the filter disconnected and wakes a blocked Read, which then
// reports io.EOF.
func (f *bridgeFilter) drain() [][]byte {
	f.mu.Lock()
	q := f.queue
	f.queue = nil
	f.disconnected = true
	f.mu.Unlock()
	f.wake()
	return q
}

// Read returns queued bytes, splitting chunks larger than p.
func (f *bridgeFilter) Read(p []byte) (int, error) {
	for {
		f.mu.Lock()
		if f.disconnected {
			f.mu.Unlock()
			return 0, io.EOF
		}
		if len(f.queue) > 0 {
			n := copy(p, f.queue[0])
			if n < len(f.queue[0]) {
				f.queue[0] = f.queue[0][n:]
			} else {
				f.queue = f.queue[1:]
			}
			f.mu.Unlock()
			return n, nil
		}
		if f.ended {
			err := f.err
			f.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		f.mu.Unlock()
		<-f.ready
	}
}

// Write sends bytes back to the extension for rendering.
func (f *bridgeFilter) Write(p []byte) (int, error) {
	if err := f.bridge.sendWrite(f.requestID, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Disconnect stops interception; the extension passes the rest of the
// response through untouched.
func (f *bridgeFilter) Disconnect() error {
	return f.bridge.disconnect(f)
}
