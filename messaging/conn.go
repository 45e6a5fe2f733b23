package messaging

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxOutgoingSize is the largest message a native host may send.
	MaxOutgoingSize = 1 << 20
	// maxIncomingSize is the largest message the browser sends to a host.
	maxIncomingSize = 64 << 20
)

// ErrMessageTooLarge is returned for messages over the framing limits.
var ErrMessageTooLarge = errors.New("message too large")

// Port is one end of a message channel.
type Port interface {
	Send(m Message) error
}

// Conn speaks the native messaging framing: each message is a 32-bit
// little-endian length followed by that many bytes of JSON.
type Conn struct {
	r io.Reader

	mu sync.Mutex
	w  io.Writer
}

// NewConn returns a Conn reading from r and writing to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: r, w: w}
}

// Receive reads the next message. It returns io.EOF when the peer closed
// the stream between messages.
func (c *Conn) Receive() (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("reading message length: %w", err)
		}
		return Message{}, err
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxIncomingSize {
		return Message{}, fmt.Errorf("%w: incoming message of %d bytes", ErrMessageTooLarge, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("reading message body: %w", err)
	}

	var m Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}

// Send writes m as one frame. Safe for concurrent use.
func (c *Conn) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxOutgoingSize {
		return fmt.Errorf("%w: %s of %d bytes", ErrMessageTooLarge, m.Type, len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
