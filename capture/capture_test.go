package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeInterceptor struct {
	filter Filter
	err    error
	asked  []string
}

func (f *fakeInterceptor) Intercept(requestID string) (Filter, error) {
	f.asked = append(f.asked, requestID)
	return f.filter, f.err
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCaptureFullBody(t *testing.T) {
	var sink bytes.Buffer
	f := NewStreamFilter(strings.NewReader("<html>hello</html>"), &sink)
	in := &fakeInterceptor{filter: f}

	c := Start(in, "req-1")
	body, err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if string(body) != "<html>hello</html>" {
		t.Errorf("body = %q", body)
	}

	waitDone(t, f.Done())
	if sink.String() != "<html>hello</html>" {
		t.Errorf("consumer received %q", sink.String())
	}
	if len(in.asked) != 1 || in.asked[0] != "req-1" {
		t.Errorf("intercepted %v", in.asked)
	}
	if c.RequestID() != "req-1" {
		t.Errorf("RequestID() = %q", c.RequestID())
	}
}

func TestCaptureUnsupported(t *testing.T) {
	tests := []struct {
		name string
		in   Interceptor
	}{
		{name: "nil interceptor", in: nil},
		{name: "interceptor error", in: &fakeInterceptor{err: errors.New("no filterResponseData")}},
		{name: "no filter", in: &fakeInterceptor{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Start(tt.in, "req")
			waitDone(t, c.Done())
			_, err := c.Result()
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("Result() error = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestCaptureCancelKeepsStreamFlowing(t *testing.T) {
	pr, pw := io.Pipe()
	var sink bytes.Buffer
	f := NewStreamFilter(pr, &sink)
	c := Start(&fakeInterceptor{filter: f}, "req")

	if _, err := pw.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	c.Cancel()
	waitDone(t, c.Done())
	if _, err := c.Result(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("Result() error = %v, want ErrCanceled", err)
	}

	// The transfer continues after cancellation.
	if _, err := pw.Write([]byte("def")); err != nil {
		t.Fatal(err)
	}
	if _, err := pw.Write([]byte("ghi")); err != nil {
		t.Fatal(err)
	}
	_ = pw.Close()

	waitDone(t, f.Done())
	if sink.String() != "abcdefghi" {
		t.Errorf("consumer received %q, want abcdefghi", sink.String())
	}
}

// idleFilter never delivers data; Read blocks until Disconnect.
type idleFilter struct {
	mu          sync.Mutex
	disconnects int
	gone        chan struct{}
}

func (f *idleFilter) Read([]byte) (int, error) {
	<-f.gone
	return 0, io.EOF
}

func (f *idleFilter) Write(p []byte) (int, error) { return len(p), nil }

func (f *idleFilter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	if f.disconnects == 1 {
		close(f.gone)
	}
	return nil
}

func TestCaptureCancelDisconnectsBeforeData(t *testing.T) {
	f := &idleFilter{gone: make(chan struct{})}
	c := Start(&fakeInterceptor{filter: f}, "req")

	c.Cancel()
	waitDone(t, f.gone)
	c.Cancel()

	f.mu.Lock()
	n := f.disconnects
	f.mu.Unlock()
	if n != 1 {
		t.Errorf("Disconnect called %d times, want 1", n)
	}
	if _, err := c.Result(); !errors.Is(err, ErrCanceled) {
		t.Errorf("Result() error = %v, want ErrCanceled", err)
	}
}

func TestCaptureCancelIdempotent(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := Start(&fakeInterceptor{filter: NewStreamFilter(pr, io.Discard)}, "req")

	c.Cancel()
	c.Cancel()
	c.Cancel()
	if _, err := c.Result(); !errors.Is(err, ErrCanceled) {
		t.Errorf("Result() error = %v, want ErrCanceled", err)
	}
}

func TestCaptureCancelAfterCompletion(t *testing.T) {
	c := Start(&fakeInterceptor{filter: NewStreamFilter(strings.NewReader("done"), io.Discard)}, "req")
	waitDone(t, c.Done())

	c.Cancel()
	body, err := c.Result()
	if err != nil || string(body) != "done" {
		t.Errorf("Result() = %q, %v after late Cancel", body, err)
	}
}

func TestCaptureTooLarge(t *testing.T) {
	var sink bytes.Buffer
	f := NewStreamFilter(strings.NewReader("0123456789"), &sink)
	c := Start(&fakeInterceptor{filter: f}, "req", WithMaxBytes(4))

	_, err := c.Wait(context.Background())
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Wait() error = %v, want ErrTooLarge", err)
	}
	waitDone(t, f.Done())
	if sink.String() != "0123456789" {
		t.Errorf("consumer received %q", sink.String())
	}
}

func TestCaptureReadError(t *testing.T) {
	pr, pw := io.Pipe()
	c := Start(&fakeInterceptor{filter: NewStreamFilter(pr, io.Discard)}, "req")
	_ = pw.CloseWithError(errors.New("connection reset"))

	_, err := c.Wait(context.Background())
	if err == nil || errors.Is(err, ErrCanceled) || errors.Is(err, ErrUnsupported) {
		t.Errorf("Wait() error = %v, want read error", err)
	}
}

func TestCaptureWaitContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := Start(&fakeInterceptor{filter: NewStreamFilter(pr, io.Discard)}, "req")
	defer c.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestStreamFilterDisconnectIdempotent(t *testing.T) {
	var sink bytes.Buffer
	f := NewStreamFilter(strings.NewReader("rest"), &sink)
	if err := f.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := f.Disconnect(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, f.Done())
	if sink.String() != "rest" {
		t.Errorf("consumer received %q", sink.String())
	}
	if n, err := f.Read(make([]byte, 8)); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read after Disconnect = %d, %v", n, err)
	}
}
