package messaging

import (
	"fmt"
	"log/slog"

	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/trust"
)

// Actions are the coordinator operations reachable from messages.
type Actions interface {
	IgnoreKey(contextID string, id trust.KeyID)
	DeclareMatchers(contextID, pageURL string, ds []matcher.Directive)
}

// PolicyWriter mutates operator decisions.
type PolicyWriter interface {
	Approve(id trust.KeyID) error
	Reject(id trust.KeyID) error
	Forget(id trust.KeyID) error
}

// Router dispatches popup and operator messages. Unknown message types are
// logged and ignored.
type Router struct {
	hub     *Hub
	actions Actions
	policy  PolicyWriter
	logger  *slog.Logger
}

// RouterOption is a functional option for configuring a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger for the router.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router. policy may be nil when decisions are
// read-only.
func NewRouter(hub *Hub, actions Actions, policy PolicyWriter, opts ...RouterOption) *Router {
	r := &Router{
		hub:     hub,
		actions: actions,
		policy:  policy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes m received from p. The returned error describes a
// malformed or failed message; it never ends the session.
func (r *Router) Handle(p Port, m Message) error {
	switch m.Type {
	case TypeSubscribe:
		var pl ContextPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		if pl.ContextID == "" {
			return fmt.Errorf("%s: missing contextId", m.Type)
		}
		r.hub.Subscribe(p, pl.ContextID)
		return nil

	case TypeIgnoreKey, TypeIgnorePublicKeyStatus:
		var pl KeyPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		if pl.ContextID == "" {
			return fmt.Errorf("%s: missing contextId", m.Type)
		}
		id, err := trust.ParseKeyID(pl.KeyID)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		r.actions.IgnoreKey(pl.ContextID, id)
		r.logger.Info("key ignored for context", "context", pl.ContextID, "key_id", id)
		return nil

	case TypeApprove, TypeReject, TypeForget:
		return r.decide(m)

	case TypeMatchersResponse:
		var pl MatchersPayload
		if err := m.Decode(&pl); err != nil {
			return err
		}
		r.actions.DeclareMatchers(pl.ContextID, pl.URL, pl.Matchers)
		return nil

	default:
		r.logger.Warn("ignoring unknown message", "type", m.Type)
		return nil
	}
}

func (r *Router) decide(m Message) error {
	if r.policy == nil {
		return fmt.Errorf("%s: policy store is read-only", m.Type)
	}
	var pl KeyPayload
	if err := m.Decode(&pl); err != nil {
		return err
	}
	id, err := trust.ParseKeyID(pl.KeyID)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}

	switch m.Type {
	case TypeApprove:
		err = r.policy.Approve(id)
	case TypeReject:
		err = r.policy.Reject(id)
	default:
		err = r.policy.Forget(id)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", m.Type, id, err)
	}
	r.logger.Info("author decision updated", "action", m.Type, "key_id", id)
	return nil
}
