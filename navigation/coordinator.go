// Package navigation drives one verification attempt per navigation. For
// every top-level navigation the Coordinator races the response capture
// against the commit event, verifies the captured document or falls back
// to the result cache, records the outcome for the context and finally
// checks the outcome against the referring page's matchers and the
// operator's rejected keys.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/trust"
)

// DefaultMatcherTimeout bounds the wait for a referring page's matchers.
const DefaultMatcherTimeout = 2 * time.Second

// Coordinator owns all per-context state for the lifetime of the host
// process. Create it with New and release it with Close.
type Coordinator struct {
	host     Host
	verifier DocumentVerifier
	cache    ResultCache
	policy   PolicyReader
	notifier Notifier
	dest     Destinations
	logger   *slog.Logger

	maxBody        int64
	matcherTimeout time.Duration

	ctx   context.Context
	stop  context.CancelFunc
	tasks *tracker

	mu       sync.Mutex
	contexts contexts
	closed   bool
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithResultCache sets the cache fresh verdicts are written to and cache
// fallbacks read from.
func WithResultCache(rc ResultCache) Option {
	return func(c *Coordinator) { c.cache = rc }
}

// WithPolicy sets the source of rejected keys.
func WithPolicy(p PolicyReader) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithNotifier sets the receiver of outcome updates.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithDestinations overrides the interstitial pages.
func WithDestinations(d Destinations) Option {
	return func(c *Coordinator) { c.dest = d }
}

// WithMaxBodyBytes caps captured bodies. Larger documents fall back to the
// cache.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Coordinator) { c.maxBody = n }
}

// WithMatcherTimeout bounds the wait for a referring page's matchers.
func WithMatcherTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.matcherTimeout = d
		}
	}
}

// New creates a Coordinator driving host and verifying with v.
func New(host Host, v DocumentVerifier, opts ...Option) *Coordinator {
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		host:           host,
		verifier:       v,
		notifier:       NotifierFunc(func(string, trust.Outcome) {}),
		dest:           DefaultDestinations(),
		logger:         slog.Default(),
		maxBody:        capture.DefaultMaxBytes,
		matcherTimeout: DefaultMatcherTimeout,
		ctx:            ctx,
		stop:           stop,
		tasks:          newTracker(),
		contexts:       make(contexts),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close abandons every in-flight attempt, drops all context state and
// waits for background work to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, st := range c.contexts {
		if st.attempt != nil {
			st.attempt.abandon()
		}
		delete(c.contexts, id)
	}
	c.mu.Unlock()

	c.stop()
	return c.tasks.wait(context.Background())
}

// WaitIdle blocks until no verification, matcher exchange or policy pass
// is in flight, or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	return c.tasks.wait(ctx)
}

func (c *Coordinator) spawn(fn func()) {
	c.tasks.add()
	go func() {
		defer c.tasks.done()
		fn()
	}()
}

func (c *Coordinator) verifiable(raw string) bool {
	if !Verifiable(raw) {
		return false
	}
	for _, page := range []string{c.dest.Warning, c.dest.Rejection} {
		if page != "" && strings.HasPrefix(raw, page) {
			return false
		}
	}
	return true
}

// BeforeNavigate starts a verification attempt for a top-level navigation,
// abandoning whatever attempt the context had in flight.
func (c *Coordinator) BeforeNavigate(ev NavigationEvent) {
	if ev.FrameID != 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := c.contexts.get(ev.ContextID)
	if !c.verifiable(ev.URL) {
		if st.attempt != nil {
			st.attempt.abandon()
			st.attempt = nil
		}
		c.mu.Unlock()
		c.logger.Debug("navigation not verified", "context", ev.ContextID, "url", ev.URL)
		return
	}

	referrer := ev.ReferrerID
	if referrer == "" {
		referrer = st.referrer
	}
	st.referrer = ""
	if referrer == "" {
		referrer = ev.ContextID
	}

	ms, fetch := c.matchersForLocked(referrer)
	a := c.newAttemptLocked(st, ev.URL, referrer, ms)
	c.mu.Unlock()

	c.logger.Debug("navigation started", "context", ev.ContextID, "url", ev.URL, "referrer", referrer)
	if fetch {
		c.spawn(func() { c.fetchMatchers(referrer, ms) })
	}
	c.spawn(func() { c.run(a) })
}

// CreatedNavigationTarget links a new context to the context it was opened
// from. The link applies to the next navigation in target only.
func (c *Coordinator) CreatedNavigationTarget(sourceID, targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.contexts.get(targetID).referrer = sourceID
}

// BeforeRequest starts capturing the response of the context's pending
// attempt.
func (c *Coordinator) BeforeRequest(ev RequestEvent) {
	c.mu.Lock()
	a := c.currentLocked(ev.ContextID)
	if a == nil || a.phase != PhasePending {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	cp := capture.Start(c.host, ev.RequestID, capture.WithMaxBytes(c.maxBody))

	c.mu.Lock()
	if c.currentLocked(ev.ContextID) != a || a.phase != PhasePending {
		c.mu.Unlock()
		cp.Cancel()
		return
	}
	if ev.URL != "" {
		a.url = ev.URL
	}
	a.requestID = ev.RequestID
	a.capture = cp
	a.phase = PhaseCapturing
	c.mu.Unlock()

	c.logger.Debug("capture started", "context", ev.ContextID, "request", ev.RequestID, "url", a.url)
	c.spawn(func() {
		select {
		case <-cp.Done():
			a.captured.Fire(cp)
		case <-a.ctx.Done():
		}
	})
}

// Redirected cancels the capture of a redirected request and restarts the
// attempt for the redirect target. The cancelled capture never produces
// an outcome.
func (c *Coordinator) Redirected(ev RedirectEvent) {
	c.mu.Lock()
	a := c.currentLocked(ev.ContextID)
	if a == nil || (a.requestID != "" && ev.RequestID != "" && a.requestID != ev.RequestID) {
		c.mu.Unlock()
		return
	}
	st := c.contexts[ev.ContextID]
	if !c.verifiable(ev.RedirectURL) {
		a.abandon()
		st.attempt = nil
		c.mu.Unlock()
		return
	}
	next := c.newAttemptLocked(st, ev.RedirectURL, a.referrer, a.matchers)
	c.mu.Unlock()

	c.logger.Debug("capture restarted after redirect", "context", ev.ContextID, "url", ev.URL, "redirect", ev.RedirectURL)
	c.spawn(func() { c.run(next) })
}

// Committed records the committed document and, once the attempt's outcome
// is known, runs the policy pass.
func (c *Coordinator) Committed(ev CommitEvent) {
	if ev.FrameID != 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := c.contexts.get(ev.ContextID)
	st.url = ev.URL
	st.declared = nil

	a := st.attempt
	if a == nil {
		if !c.verifiable(ev.URL) {
			c.mu.Unlock()
			return
		}
		a = c.newAttemptLocked(st, ev.URL, ev.ContextID, resolvedMatchers(nil))
		c.spawn(func() { c.run(a) })
	}
	if a.capture == nil && a.phase == PhasePending {
		a.phase = PhaseCommitWithoutCapture
		a.committed.Fire(ev.URL)
	}
	c.mu.Unlock()

	c.spawn(func() { c.policyPass(a, ev) })
}

// DeclareMatchers delivers matcher directives from the page shown in
// contextID outside of a request, as pages do when they unload. A
// navigation still waiting for that page's matchers receives them; else
// they are kept for the next navigation originating from the context.
func (c *Coordinator) DeclareMatchers(contextID, pageURL string, ds []matcher.Directive) {
	c.mu.Lock()
	st, ok := c.contexts[contextID]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	if pageURL == "" {
		pageURL = st.url
	}
	c.mu.Unlock()

	ms := c.parseMatchers(contextID, pageURL, ds)

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.waiting != nil {
		w := st.waiting
		st.waiting = nil
		if w.resolve(ms) {
			return
		}
	}
	st.declared = ms
}

// IgnoreKey exempts id from the rejection redirect in contextID until the
// context is removed.
func (c *Coordinator) IgnoreKey(contextID string, id trust.KeyID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.contexts.get(contextID).ignored[id] = struct{}{}
}

// Ignored reports whether id is exempted in contextID.
func (c *Coordinator) Ignored(contextID string, id trust.KeyID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.contexts[contextID]
	if !ok {
		return false
	}
	_, ok = st.ignored[id]
	return ok
}

// Outcome returns the current outcome of contextID.
func (c *Coordinator) Outcome(contextID string) (trust.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.contexts[contextID]
	if !ok || !st.hasOutcome {
		return trust.Outcome{}, false
	}
	return st.outcome, true
}

// Phase returns the state of the context's current attempt.
func (c *Coordinator) Phase(contextID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.contexts[contextID]
	if !ok || st.attempt == nil {
		return PhaseNone
	}
	return st.attempt.phase
}

// Remove drops all state of a closed context and abandons its attempt.
func (c *Coordinator) Remove(contextID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.contexts.remove(contextID)
	if st == nil {
		return
	}
	if st.attempt != nil {
		st.attempt.abandon()
	}
	if st.waiting != nil {
		st.waiting.resolve(nil)
	}
}

func (c *Coordinator) currentLocked(contextID string) *attempt {
	if c.closed {
		return nil
	}
	st, ok := c.contexts[contextID]
	if !ok || st.attempt == nil || st.attempt.ctx.Err() != nil {
		return nil
	}
	return st.attempt
}

func (c *Coordinator) newAttemptLocked(st *contextState, rawURL, referrer string, ms *matcherSet) *attempt {
	if st.attempt != nil {
		st.attempt.abandon()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	seq := new(Sequence)
	a := &attempt{
		ctx:       ctx,
		cancel:    cancel,
		contextID: st.id,
		referrer:  referrer,
		url:       rawURL,
		matchers:  ms,
		captured:  NewSignal[*capture.Capture](seq),
		committed: NewSignal[string](seq),
		phase:     PhasePending,
		settled:   make(chan struct{}),
	}
	st.attempt = a
	return a
}

// matchersForLocked returns the matcher set for a navigation referred by
// referrer, consuming matchers the referring page already declared. fetch
// reports whether the referring page still has to be asked.
func (c *Coordinator) matchersForLocked(referrer string) (ms *matcherSet, fetch bool) {
	rs, ok := c.contexts[referrer]
	if !ok || rs.url == "" {
		return resolvedMatchers(nil), false
	}
	if rs.declared != nil {
		ms = resolvedMatchers(rs.declared)
		rs.declared = nil
		return ms, false
	}
	if rs.waiting != nil {
		rs.waiting.resolve(nil)
	}
	ms = newMatcherSet()
	rs.waiting = ms
	return ms, true
}

// fetchMatchers asks the referring page for its matchers. Failure counts
// as an empty list unless the page declares them before the timeout.
func (c *Coordinator) fetchMatchers(referrer string, ms *matcherSet) {
	ctx, cancel := context.WithTimeout(c.ctx, c.matcherTimeout)
	defer cancel()

	defer func() {
		c.mu.Lock()
		if rs, ok := c.contexts[referrer]; ok && rs.waiting == ms {
			rs.waiting = nil
		}
		c.mu.Unlock()
	}()

	ds, pageURL, err := c.host.RequestMatchers(ctx, referrer)
	if err == nil {
		ms.resolve(c.parseMatchers(referrer, pageURL, ds))
		return
	}
	c.logger.Debug("matcher request failed", "context", referrer, "error", err)

	select {
	case <-ms.done:
	case <-ctx.Done():
		ms.resolve(nil)
	}
}

func (c *Coordinator) parseMatchers(contextID, pageURL string, ds []matcher.Directive) []matcher.Matcher {
	if len(ds) == 0 {
		return nil
	}
	var base *url.URL
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			base = u
		}
	}
	ms, err := matcher.ParseAll(ds, base)
	if err != nil {
		c.logger.Warn("dropped invalid matcher directives", "context", contextID, "error", err)
	}
	return ms
}

// run resolves the capture/commit race of a and settles the attempt.
func (c *Coordinator) run(a *attempt) {
	winner, err := FirstOf(a.ctx, a.captured, a.committed)
	if err != nil {
		return
	}

	var o trust.Outcome
	switch winner {
	case FirstWins:
		cp, _ := a.captured.Value()
		body, cerr := cp.Result()
		switch {
		case cerr == nil:
			var ok bool
			if o, ok = c.verify(a, body); !ok {
				return
			}
		case errors.Is(cerr, capture.ErrCanceled):
			return
		case errors.Is(cerr, capture.ErrUnsupported):
			c.setPhase(a, PhaseCacheFallback)
			o = c.fallback(a.url, trust.UnsupportedCapture())
		default:
			c.logger.Debug("capture failed, reading cache", "context", a.contextID, "url", a.url, "error", cerr)
			c.setPhase(a, PhaseCacheFallback)
			o = c.fallback(a.url, trust.CacheMiss())
		}
	case SecondWins:
		committedURL, _ := a.committed.Value()
		c.setPhase(a, PhaseCacheFallback)
		o = c.fallback(committedURL, trust.CacheMiss())
	}

	c.settle(a, o)
}

// verify checks body under the context's verification lock. ok is false
// when the attempt was abandoned meanwhile.
func (c *Coordinator) verify(a *attempt, body []byte) (o trust.Outcome, ok bool) {
	c.mu.Lock()
	st, found := c.contexts[a.contextID]
	c.mu.Unlock()
	if !found {
		return trust.Outcome{}, false
	}

	st.verifyMu.Lock()
	defer st.verifyMu.Unlock()
	if a.ctx.Err() != nil {
		return trust.Outcome{}, false
	}
	o = c.verifier.Verify(a.ctx, a.url, body)
	if a.ctx.Err() != nil {
		return trust.Outcome{}, false
	}
	return o, true
}

// fallback reads the cached verdict for rawURL, returning miss when there
// is none.
func (c *Coordinator) fallback(rawURL string, miss trust.Outcome) trust.Outcome {
	if c.cache == nil {
		return miss
	}
	o, err := c.cache.Get(rawURL)
	if err != nil {
		c.logger.Debug("no cached result", "url", rawURL, "error", err)
		return miss
	}
	return o.Cached()
}

func (c *Coordinator) setPhase(a *attempt, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a.phase = p
}

// settle records o for the attempt's context if the attempt is still
// current, persists fresh verdicts and notifies.
func (c *Coordinator) settle(a *attempt, o trust.Outcome) {
	c.mu.Lock()
	st, ok := c.contexts[a.contextID]
	if !ok || st.attempt != a || a.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	st.outcome = o
	st.hasOutcome = true
	a.outcome = o
	switch {
	case o.FromCache:
		a.phase = PhaseCacheFallback
	case o.Status == trust.StatusVerified:
		a.phase = PhaseVerified
	case o.Status == trust.StatusFailure:
		a.phase = PhaseFailed
	default:
		a.phase = PhaseUnverified
	}
	close(a.settled)
	c.mu.Unlock()

	if o.Persistable() && c.cache != nil {
		if err := c.cache.Put(a.url, o); err != nil {
			c.logger.Warn("persisting result failed", "url", a.url, "error", err)
		}
	}
	c.logger.Info("navigation outcome", "context", a.contextID, "url", a.url, "status", o.Status, "key_id", o.KeyID(), "from_cache", o.FromCache)
	c.notifier.Notify(a.contextID, o)
}

// policyPass waits for the attempt's outcome, then applies the matcher
// check to link navigations and the rejected-key check to all of them.
// Outcomes that are not verdicts never redirect.
func (c *Coordinator) policyPass(a *attempt, ev CommitEvent) {
	select {
	case <-a.settled:
	case <-a.ctx.Done():
		return
	}
	o := a.outcome
	if !o.IsVerdict() {
		return
	}

	if ev.Transition == TransitionLink {
		select {
		case <-a.matchers.done:
		case <-a.ctx.Done():
			return
		}
		if m, ok := matcher.Find(a.matchers.list, ev.URL); ok && m.KeyID != o.KeyID() {
			c.logger.Warn("author does not match referring page",
				"context", a.contextID, "url", ev.URL, "expected", m.KeyID, "key_id", o.KeyID())
			c.redirect(a, c.dest.WarningURL(ev.URL, m.Date))
			return
		}
	}

	if o.Status != trust.StatusVerified || c.policy == nil {
		return
	}
	id := o.KeyID()
	if !c.policy.Rejected(id) || c.Ignored(a.contextID, id) {
		return
	}
	c.logger.Warn("author rejected", "context", a.contextID, "url", ev.URL, "key_id", id)
	c.redirect(a, c.dest.RejectionURL(ev.URL, id))
}

func (c *Coordinator) redirect(a *attempt, dest string) {
	c.mu.Lock()
	current := c.currentLocked(a.contextID) == a
	c.mu.Unlock()
	if !current {
		return
	}
	if err := c.host.Navigate(c.ctx, a.contextID, dest); err != nil {
		c.logger.Warn("redirect failed", "context", a.contextID, "url", dest, "error", err)
	}
}
