// Package capture observes a response body while it streams to its consumer.
//
// A Capture never gates the transfer it observes: every chunk read from the
// Filter is written back through before it is accumulated, and a cancelled
// capture keeps passing bytes until it has disconnected from the stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxBytes caps the accumulated body when no limit is configured.
const DefaultMaxBytes = 10 << 20

const chunkSize = 32 << 10

var (
	// ErrUnsupported means the host cannot intercept bodies for the request.
	ErrUnsupported = errors.New("response capture unsupported")
	// ErrCanceled is the result of a capture cancelled before completion.
	ErrCanceled = errors.New("response capture canceled")
	// ErrTooLarge means the body exceeded the configured limit.
	ErrTooLarge = errors.New("response body exceeds capture limit")
)

// Filter is an intercepted response stream. Bytes returned by Read must be
// handed back through Write to reach the original consumer. After
// Disconnect the remaining bytes flow to the consumer directly.
type Filter interface {
	io.Reader
	io.Writer
	Disconnect() error
}

// Interceptor attaches a Filter to an in-flight request. Implementations
// return an error wrapping ErrUnsupported when the request cannot be
// intercepted.
type Interceptor interface {
	Intercept(requestID string) (Filter, error)
}

// Option configures a Capture.
type Option func(*Capture)

// WithMaxBytes caps the accumulated body size. Non-positive values keep the
// default.
func WithMaxBytes(n int64) Option {
	return func(c *Capture) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// Capture is a single cancellable body capture.
type Capture struct {
	requestID string
	maxBytes  int64

	done     chan struct{}
	once     sync.Once
	cancel   chan struct{}
	stopOnce sync.Once

	filter         Filter
	disconnectOnce sync.Once

	body []byte
	err  error
}

// Start intercepts requestID through in and begins capturing. The returned
// Capture always settles: with the body, with ErrUnsupported if
// interception failed, or with the error that ended the stream.
func Start(in Interceptor, requestID string, opts ...Option) *Capture {
	c := &Capture{
		requestID: requestID,
		maxBytes:  DefaultMaxBytes,
		done:      make(chan struct{}),
		cancel:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	if in == nil {
		c.settle(nil, ErrUnsupported)
		return c
	}
	f, err := in.Intercept(requestID)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			err = fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		c.settle(nil, err)
		return c
	}
	if f == nil {
		c.settle(nil, ErrUnsupported)
		return c
	}

	c.filter = f
	go c.run()
	return c
}

// RequestID returns the request the capture is attached to.
func (c *Capture) RequestID() string { return c.requestID }

func (c *Capture) run() {
	defer c.disconnect()

	f := c.filter
	var body []byte
	buf := make([]byte, chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				c.settle(nil, fmt.Errorf("writing through: %w", err))
				return
			}
			if c.canceled() {
				return
			}
			if int64(len(body)+n) > c.maxBytes {
				c.settle(nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes))
				return
			}
			body = append(body, buf[:n]...)
		}
		if errors.Is(rerr, io.EOF) {
			c.settle(body, nil)
			return
		}
		if rerr != nil {
			c.settle(nil, fmt.Errorf("reading response: %w", rerr))
			return
		}
		if c.canceled() {
			return
		}
	}
}

func (c *Capture) canceled() bool {
	select {
	case <-c.cancel:
		return true
	default:
		return false
	}
}

func (c *Capture) settle(body []byte, err error) {
	c.once.Do(func() {
		c.body = body
		c.err = err
		close(c.done)
	})
}

// disconnect detaches the filter once, whichever of run and Cancel gets
// there first.
func (c *Capture) disconnect() {
	if c.filter == nil {
		return
	}
	c.disconnectOnce.Do(func() {
		if err := c.filter.Disconnect(); err != nil {
			c.settle(nil, fmt.Errorf("disconnecting: %w", err))
		}
	})
}

// Cancel abandons the capture. It settles with ErrCanceled unless the
// capture already finished, disconnects the filter, and may be called any
// number of times. The stream keeps flowing to its consumer.
func (c *Capture) Cancel() {
	c.stopOnce.Do(func() { close(c.cancel) })
	c.settle(nil, ErrCanceled)
	c.disconnect()
}

// Done is closed once the capture has settled.
func (c *Capture) Done() <-chan struct{} { return c.done }

// Result returns the captured body or the settling error. It must only be
// called after Done is closed.
func (c *Capture) Result() ([]byte, error) {
	return c.body, c.err
}

// Wait blocks until the capture settles or ctx is done.
func (c *Capture) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
