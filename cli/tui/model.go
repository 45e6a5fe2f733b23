// Package tui provides the interactive popup for browsing contexts: it
// shows each context's verification outcome and sends author decisions
// using the Bubble Tea framework.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/webverify/webverify/messaging"
	"github.com/webverify/webverify/trust"
)

type viewState int

const (
	listView viewState = iota
	detailView
)

// Entry is a browsing context shown by the popup.
type Entry struct {
	ContextID string
	URL       string
}

type row struct {
	Entry
	outcome trust.Outcome
	known   bool
}

// SendFunc delivers an operator message, usually to a messaging.Router.
type SendFunc func(messaging.Message) error

// Model is the root Bubble Tea model of the popup.
type Model struct {
	state  viewState
	rows   []*row
	index  map[string]int
	cursor int
	relay  *Relay
	send   SendFunc

	notice    string
	noticeErr bool
	width     int
	height    int
}

// New creates a Model listing entries. Outcomes arrive through relay as
// UPDATE messages; actions are delivered with send.
func New(entries []Entry, relay *Relay, send SendFunc) *Model {
	m := &Model{
		state:  listView,
		index:  make(map[string]int, len(entries)),
		relay:  relay,
		send:   send,
		width:  80,
		height: 24,
	}
	for i, e := range entries {
		m.rows = append(m.rows, &row{Entry: e})
		m.index[e.ContextID] = i
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.relay == nil {
		return nil
	}
	return m.relay.wait()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		if i, ok := m.index[msg.ContextID]; ok {
			m.rows[i].outcome = msg.Outcome
			m.rows[i].known = true
		}
		if m.relay == nil {
			return m, nil
		}
		return m, m.relay.wait()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	switch m.state {
	case detailView:
		return renderDetail(m)
	default:
		return renderList(m)
	}
}

// Outcome returns the outcome shown for contextID.
func (m *Model) Outcome(contextID string) (trust.Outcome, bool) {
	i, ok := m.index[contextID]
	if !ok || !m.rows[i].known {
		return trust.Outcome{}, false
	}
	return m.rows[i].outcome, true
}

func (m *Model) selected() *row {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor]
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case matchesBinding(msg, keys.Quit):
		return m, tea.Quit

	case matchesBinding(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case matchesBinding(msg, keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}

	case matchesBinding(msg, keys.Enter):
		if m.state == listView && len(m.rows) > 0 {
			m.state = detailView
		}

	case matchesBinding(msg, keys.Back):
		m.state = listView

	case matchesBinding(msg, keys.Approve):
		m.act(messaging.TypeApprove, "approved")
	case matchesBinding(msg, keys.Reject):
		m.act(messaging.TypeReject, "rejected")
	case matchesBinding(msg, keys.Forget):
		m.act(messaging.TypeForget, "forgot")
	case matchesBinding(msg, keys.Ignore):
		m.act(messaging.TypeIgnoreKey, "ignoring")
	}
	return m, nil
}

// act sends an action about the selected context's author key.
func (m *Model) act(t messaging.Type, verb string) {
	r := m.selected()
	if r == nil || !r.known || r.outcome.KeyID() == "" {
		m.setNotice("no author key for this context", true)
		return
	}
	if m.send == nil {
		m.setNotice("actions are not available", true)
		return
	}

	id := r.outcome.KeyID()
	pl := messaging.KeyPayload{KeyID: string(id)}
	if t == messaging.TypeIgnoreKey {
		pl.ContextID = r.ContextID
	}
	msg, err := messaging.NewMessage(t, pl)
	if err == nil {
		err = m.send(msg)
	}
	if err != nil {
		m.setNotice(fmt.Sprintf("%s %s failed: %v", verb, id, err), true)
		return
	}
	m.setNotice(fmt.Sprintf("%s %s", verb, id), false)
}

func (m *Model) setNotice(s string, isErr bool) {
	m.notice = s
	m.noticeErr = isErr
}

// matchesBinding checks if a key message matches a key binding.
func matchesBinding(msg tea.KeyMsg, binding key.Binding) bool {
	for _, k := range binding.Keys() {
		if msg.String() == k {
			return true
		}
	}
	return false
}
