package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/webverify/webverify/messaging"
	"github.com/webverify/webverify/trust"
)

// ErrRelayFull is returned when updates arrive faster than the UI drains them.
var ErrRelayFull = errors.New("tui: update queue full")

// UpdateMsg carries a context's outcome into the model.
type UpdateMsg struct {
	ContextID string
	Outcome   trust.Outcome
}

// Relay is the messaging.Port of the popup. UPDATE messages are queued
// until the running program picks them up; other messages are dropped.
type Relay struct {
	ch chan UpdateMsg
}

var _ messaging.Port = (*Relay)(nil)

// NewRelay returns a Relay able to hold size pending updates.
func NewRelay(size int) *Relay {
	if size < 1 {
		size = 1
	}
	return &Relay{ch: make(chan UpdateMsg, size)}
}

// Send implements messaging.Port.
func (r *Relay) Send(m messaging.Message) error {
	if m.Type != messaging.TypeUpdate {
		return nil
	}
	var u messaging.UpdatePayload
	if err := m.Decode(&u); err != nil {
		return err
	}
	select {
	case r.ch <- UpdateMsg{ContextID: u.ContextID, Outcome: u.Outcome()}:
		return nil
	default:
		return ErrRelayFull
	}
}

// wait returns a command delivering the next queued update.
func (r *Relay) wait() tea.Cmd {
	return func() tea.Msg { return <-r.ch }
}
