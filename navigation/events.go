package navigation

import (
	"context"

	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/trust"
)

// Transition is how a navigation was initiated.
type Transition string

const (
	TransitionLink             Transition = "link"
	TransitionTyped            Transition = "typed"
	TransitionAutoBookmark     Transition = "auto_bookmark"
	TransitionAutoSubframe     Transition = "auto_subframe"
	TransitionManualSubframe   Transition = "manual_subframe"
	TransitionGenerated        Transition = "generated"
	TransitionStartPage        Transition = "start_page"
	TransitionFormSubmit       Transition = "form_submit"
	TransitionReload           Transition = "reload"
	TransitionKeyword          Transition = "keyword"
	TransitionKeywordGenerated Transition = "keyword_generated"
)

// NavigationEvent reports that a top-level navigation is about to begin.
type NavigationEvent struct {
	ContextID string `json:"contextId"`
	URL       string `json:"url"`
	// FrameID is 0 for the top-level frame. Sub-frame navigations are ignored.
	FrameID int `json:"frameId,omitempty"`
	// ReferrerID overrides the referring context. When empty the context
	// linked by CreatedNavigationTarget is used, else the context itself.
	ReferrerID string `json:"referrerId,omitempty"`
}

// RequestEvent reports the document request of a navigation.
type RequestEvent struct {
	ContextID string `json:"contextId"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
}

// RedirectEvent reports that the document request was redirected.
type RedirectEvent struct {
	ContextID   string `json:"contextId"`
	RequestID   string `json:"requestId"`
	URL         string `json:"url"`
	RedirectURL string `json:"redirectUrl"`
}

// CommitEvent reports that the navigation committed.
type CommitEvent struct {
	ContextID  string     `json:"contextId"`
	URL        string     `json:"url"`
	FrameID    int        `json:"frameId,omitempty"`
	Transition Transition `json:"transition"`
}

// Host is the platform the coordinator drives: it intercepts response
// bodies, relays matcher requests to pages and performs redirects.
type Host interface {
	capture.Interceptor
	// RequestMatchers asks the page shown in contextID for its matcher
	// directives and returns them with that page's URL.
	RequestMatchers(ctx context.Context, contextID string) ([]matcher.Directive, string, error)
	// Navigate sends contextID to url.
	Navigate(ctx context.Context, contextID, url string) error
}

// DocumentVerifier turns a document body into a verdict.
type DocumentVerifier interface {
	Verify(ctx context.Context, docURL string, content []byte) trust.Outcome
}

// ResultCache is the durable URL to verdict mapping used for fallbacks.
type ResultCache interface {
	Get(url string) (trust.Outcome, error)
	Put(url string, o trust.Outcome) error
}

// PolicyReader answers whether the operator rejected a key.
type PolicyReader interface {
	Rejected(id trust.KeyID) bool
}

// Notifier receives every outcome assigned to a context.
type Notifier interface {
	Notify(contextID string, o trust.Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(contextID string, o trust.Outcome)

// Notify calls f.
func (f NotifierFunc) Notify(contextID string, o trust.Outcome) { f(contextID, o) }
