// Package browser is a headless, HTTP-driven navigation host. It performs
// navigations with net/http, reports their lifecycle to an Observer the
// way a browser extension would, lets the observer intercept document
// bodies and answers matcher requests from the pages it has loaded.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/document"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/navigation"
)

const defaultMaxRedirects = 10

var (
	// ErrNoPage is returned for contexts that have not loaded a document.
	ErrNoPage = errors.New("no page loaded")
	// ErrTooManyRedirects is returned when a navigation exceeds the limit.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Observer receives the navigation lifecycle. navigation.Coordinator
// implements it.
type Observer interface {
	BeforeNavigate(ev navigation.NavigationEvent)
	CreatedNavigationTarget(sourceID, targetID string)
	BeforeRequest(ev navigation.RequestEvent)
	Redirected(ev navigation.RedirectEvent)
	Committed(ev navigation.CommitEvent)
	DeclareMatchers(contextID, pageURL string, ds []matcher.Directive)
	Remove(contextID string)
}

// Page is a loaded document.
type Page struct {
	ContextID string
	URL       string
	Status    int
	Body      []byte
	// Hops lists the URLs that redirected to URL, in order.
	Hops     []string
	Matchers []matcher.Directive
}

// Redirect is a navigation requested by the observer.
type Redirect struct {
	ContextID string
	URL       string
}

// Browser implements navigation.Host over net/http.
type Browser struct {
	client       *http.Client
	capture      bool
	maxRedirects int
	logger       *slog.Logger

	mu        sync.Mutex
	obs       Observer
	tabs      map[string]*Page
	filters   map[string]*capture.StreamFilter
	redirects []Redirect
}

var _ navigation.Host = (*Browser)(nil)

// Option is a functional option for configuring a Browser.
type Option func(*Browser)

// WithHTTPClient sets the client used for navigations. Redirects are
// always handled by the browser itself.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Browser) {
		cp := *c
		b.client = &cp
	}
}

// WithCapture enables or disables body interception. Without it the
// browser never reports document requests, like a platform that cannot
// filter response bodies.
func WithCapture(enabled bool) Option {
	return func(b *Browser) { b.capture = enabled }
}

// WithMaxRedirects limits redirect chains.
func WithMaxRedirects(n int) Option {
	return func(b *Browser) { b.maxRedirects = n }
}

// WithLogger sets the logger for the browser.
func WithLogger(l *slog.Logger) Option {
	return func(b *Browser) { b.logger = l }
}

// New creates a Browser.
func New(opts ...Option) *Browser {
	b := &Browser{
		client:       &http.Client{},
		capture:      true,
		maxRedirects: defaultMaxRedirects,
		logger:       slog.Default(),
		tabs:         make(map[string]*Page),
		filters:      make(map[string]*capture.StreamFilter),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return b
}

// Attach sets the observer. It must be called before the first navigation.
func (b *Browser) Attach(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.obs = obs
}

func (b *Browser) observer() Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.obs
}

// Open navigates contextID to rawURL.
func (b *Browser) Open(ctx context.Context, contextID, rawURL string, tr navigation.Transition) (*Page, error) {
	obs := b.observer()
	if obs == nil {
		return nil, errors.New("browser: no observer attached")
	}

	prev := b.Tab(contextID)
	obs.BeforeNavigate(navigation.NavigationEvent{ContextID: contextID, URL: rawURL})
	if prev != nil && len(prev.Matchers) > 0 {
		// The page being left re-sends its matchers as it unloads.
		obs.DeclareMatchers(contextID, prev.URL, prev.Matchers)
	}

	page := &Page{ContextID: contextID}
	current := rawURL
	for hop := 0; ; hop++ {
		if hop > b.maxRedirects {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRedirects, rawURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", current, err)
		}

		requestID := uuid.NewString()
		if next, ok := redirectTarget(resp); ok {
			b.redirectHop(obs, contextID, requestID, current, next, resp)
			page.Hops = append(page.Hops, current)
			current = next
			continue
		}

		page.URL = current
		page.Status = resp.StatusCode
		body, err := b.load(obs, contextID, requestID, current, tr, resp)
		if err != nil {
			return nil, err
		}
		page.Body = body
		break
	}

	ds, err := matcher.ParseTags(document.MatcherDirectives(page.Body))
	if err != nil {
		b.logger.Debug("ignoring malformed matcher tags", "url", page.URL, "error", err)
	}
	page.Matchers = ds

	b.mu.Lock()
	b.tabs[contextID] = page
	b.mu.Unlock()
	return page, nil
}

// redirectHop reports a redirected request. The hop's capture is started
// on a stream that stays open until the redirect has been reported, so it
// cannot complete for the superseded response.
func (b *Browser) redirectHop(obs Observer, contextID, requestID, from, to string, resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	pr, pw := io.Pipe()
	if b.capture {
		b.offer(requestID, capture.NewStreamFilter(pr, io.Discard))
		obs.BeforeRequest(navigation.RequestEvent{ContextID: contextID, RequestID: requestID, URL: from})
	}
	obs.Redirected(navigation.RedirectEvent{ContextID: contextID, RequestID: requestID, URL: from, RedirectURL: to})
	_ = pw.Close()
	b.withdraw(requestID)
}

// load streams the final response into the page, through the observer's
// capture when it intercepted the request.
func (b *Browser) load(obs Observer, contextID, requestID, rawURL string, tr navigation.Transition, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var page bytes.Buffer
	filter := capture.NewStreamFilter(resp.Body, &page)
	intercepting := b.capture && isHTML(resp)
	if intercepting {
		b.offer(requestID, filter)
		obs.BeforeRequest(navigation.RequestEvent{ContextID: contextID, RequestID: requestID, URL: rawURL})
	}
	obs.Committed(navigation.CommitEvent{ContextID: contextID, URL: rawURL, Transition: tr})

	if intercepting && b.withdraw(requestID) == nil {
		<-filter.Done()
		if err := filter.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", rawURL, err)
		}
		return page.Bytes(), nil
	}

	if _, err := io.Copy(&page, resp.Body); err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return page.Bytes(), nil
}

func (b *Browser) offer(requestID string, f *capture.StreamFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[requestID] = f
}

// withdraw removes an offered filter nobody intercepted and returns it.
// It returns nil when the filter was taken.
func (b *Browser) withdraw(requestID string) *capture.StreamFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.filters[requestID]
	if !ok {
		return nil
	}
	delete(b.filters, requestID)
	return f
}

// Intercept hands out the body filter of an in-flight document request.
func (b *Browser) Intercept(requestID string) (capture.Filter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.filters[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: request %s is not interceptable", capture.ErrUnsupported, requestID)
	}
	delete(b.filters, requestID)
	return f, nil
}

// RequestMatchers returns the matcher tags of the page shown in contextID.
func (b *Browser) RequestMatchers(_ context.Context, contextID string) ([]matcher.Directive, string, error) {
	p := b.Tab(contextID)
	if p == nil || p.Body == nil {
		return nil, "", fmt.Errorf("%w in %s", ErrNoPage, contextID)
	}
	return p.Matchers, p.URL, nil
}

// Navigate records a redirect requested by the observer. Interstitial
// pages are shown in place; other destinations are only recorded.
func (b *Browser) Navigate(_ context.Context, contextID, rawURL string) error {
	b.mu.Lock()
	b.redirects = append(b.redirects, Redirect{ContextID: contextID, URL: rawURL})
	obs := b.obs
	internal := strings.HasPrefix(rawURL, navigation.InternalOrigin)
	if internal {
		b.tabs[contextID] = &Page{ContextID: contextID, URL: rawURL}
	}
	b.mu.Unlock()

	b.logger.Info("context redirected", "context", contextID, "url", rawURL)
	if internal && obs != nil {
		obs.BeforeNavigate(navigation.NavigationEvent{ContextID: contextID, URL: rawURL})
		obs.Committed(navigation.CommitEvent{ContextID: contextID, URL: rawURL, Transition: navigation.TransitionGenerated})
	}
	return nil
}

// Follow navigates contextID to href, resolved against its current page,
// as a link click.
func (b *Browser) Follow(ctx context.Context, contextID, href string) (*Page, error) {
	target, err := b.resolve(contextID, href)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, contextID, target, navigation.TransitionLink)
}

// OpenFrom opens href from the page in referrerID in a new context.
func (b *Browser) OpenFrom(ctx context.Context, contextID, referrerID, href string) (*Page, error) {
	target, err := b.resolve(referrerID, href)
	if err != nil {
		return nil, err
	}
	obs := b.observer()
	if obs == nil {
		return nil, errors.New("browser: no observer attached")
	}
	obs.CreatedNavigationTarget(referrerID, contextID)
	return b.Open(ctx, contextID, target, navigation.TransitionLink)
}

// Close discards a context.
func (b *Browser) Close(contextID string) {
	b.mu.Lock()
	delete(b.tabs, contextID)
	obs := b.obs
	b.mu.Unlock()
	if obs != nil {
		obs.Remove(contextID)
	}
}

// Tab returns the page shown in contextID, or nil.
func (b *Browser) Tab(contextID string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabs[contextID]
}

// Redirects lists the navigations the observer requested.
func (b *Browser) Redirects() []Redirect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Redirect(nil), b.redirects...)
}

func (b *Browser) resolve(contextID, href string) (string, error) {
	p := b.Tab(contextID)
	if p == nil {
		return "", fmt.Errorf("%w in %s", ErrNoPage, contextID)
	}
	base, err := url.Parse(p.URL)
	if err != nil {
		return "", fmt.Errorf("parsing page URL: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parsing link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func redirectTarget(resp *http.Response) (string, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}
	loc, err := resp.Location()
	if err != nil {
		return "", false
	}
	return loc.String(), true
}

func isHTML(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
