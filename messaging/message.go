// Package messaging carries webverify's JSON protocols: popup
// subscriptions, operator actions, matcher declarations and the event
// stream between the browser extension and the native host.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/trust"
)

// Type names a protocol message.
type Type string

// Popup and operator messages.
const (
	TypeSubscribe        Type = "SUBSCRIBE"
	TypeUpdate           Type = "UPDATE"
	TypeIgnoreKey        Type = "IGNORE_KEY"
	TypeApprove          Type = "APPROVE"
	TypeReject           Type = "REJECT"
	TypeForget           Type = "FORGET"
	TypeMatchersRequest  Type = "MATCHERS_REQUEST"
	TypeMatchersResponse Type = "MATCHERS_RESPONSE"

	// TypeIgnorePublicKeyStatus is the name older popups use for IGNORE_KEY.
	TypeIgnorePublicKeyStatus Type = "IGNORE_PUBLIC_KEY_STATUS"
)

// Events sent by the extension to the native host.
const (
	TypeNavigationStart Type = "NAVIGATION_START"
	TypeContextCreated  Type = "CONTEXT_CREATED"
	TypeRequestStart    Type = "REQUEST_START"
	TypeResponseData    Type = "RESPONSE_DATA"
	TypeResponseEnd     Type = "RESPONSE_END"
	TypeResponseError   Type = "RESPONSE_ERROR"
	TypeRedirect        Type = "REDIRECT"
	TypeCommitted       Type = "COMMITTED"
	TypeContextRemoved  Type = "CONTEXT_REMOVED"
)

// Commands sent by the native host to the extension.
const (
	TypeFilterWrite      Type = "FILTER_WRITE"
	TypeFilterDisconnect Type = "FILTER_DISCONNECT"
	TypeNavigate         Type = "NAVIGATE"
)

// Message is the envelope of every protocol message. ID correlates a
// request with its response.
type Message struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(t Type, payload any) (Message, error) {
	m := Message{Type: t}
	if payload == nil {
		return m, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	m.Payload = data
	return m, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// ContextPayload addresses a browsing context.
type ContextPayload struct {
	ContextID string `json:"contextId"`
}

// KeyPayload carries an operator action on a key. ContextID is required
// for IGNORE_KEY only.
type KeyPayload struct {
	ContextID string `json:"contextId,omitempty"`
	KeyID     string `json:"keyId"`
}

// MatchersPayload carries a page's matcher declarations.
type MatchersPayload struct {
	ContextID string              `json:"contextId"`
	URL       string              `json:"url,omitempty"`
	Matchers  []matcher.Directive `json:"matchers"`
}

// ContextCreatedPayload links a new context to the one it was opened from.
type ContextCreatedPayload struct {
	SourceID  string `json:"sourceContextId"`
	ContextID string `json:"contextId"`
}

// ResponseDataPayload carries one chunk of an intercepted response body.
type ResponseDataPayload struct {
	RequestID string `json:"requestId"`
	Data      []byte `json:"data"`
}

// ResponseEndPayload ends or fails an intercepted response.
type ResponseEndPayload struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error,omitempty"`
}

// NavigatePayload asks the extension to send a context to URL.
type NavigatePayload struct {
	ContextID string `json:"contextId"`
	URL       string `json:"url"`
}

// UpdatePayload is the popup's view of a context's outcome.
type UpdatePayload struct {
	ContextID     string       `json:"contextId"`
	Status        trust.Status `json:"status"`
	Error         string       `json:"error,omitempty"`
	FromCache     bool         `json:"fromCache"`
	AuthorName    string       `json:"authorName,omitempty"`
	AuthorEmail   string       `json:"authorEmail,omitempty"`
	AuthorComment string       `json:"authorComment,omitempty"`
	Fingerprint   string       `json:"fingerprint,omitempty"`
	KeyID         string       `json:"keyId,omitempty"`
}

// NewUpdate flattens o for the popup.
func NewUpdate(contextID string, o trust.Outcome) UpdatePayload {
	u := UpdatePayload{
		ContextID: contextID,
		Status:    o.Status,
		Error:     o.Error,
		FromCache: o.FromCache,
	}
	if a := o.Author; a != nil {
		u.AuthorName = a.Name
		u.AuthorEmail = a.Email
		u.AuthorComment = a.Comment
		u.Fingerprint = a.Fingerprint
		u.KeyID = string(a.KeyID)
	}
	return u
}

// Outcome rebuilds the outcome the update was made from.
func (u UpdatePayload) Outcome() trust.Outcome {
	o := trust.Outcome{Status: u.Status, Error: u.Error, FromCache: u.FromCache}
	if u.KeyID != "" {
		o.Author = &trust.Author{
			Name:        u.AuthorName,
			Email:       u.AuthorEmail,
			Comment:     u.AuthorComment,
			Fingerprint: u.Fingerprint,
			KeyID:       trust.KeyID(u.KeyID),
		}
	}
	return o
}
