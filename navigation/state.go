package navigation

import (
	"context"
	"sync"

	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/trust"
)

// Phase is the position of a verification attempt in its state machine.
type Phase string

const (
	PhaseNone                 Phase = ""
	PhasePending              Phase = "PENDING"
	PhaseCapturing            Phase = "CAPTURING"
	PhaseCommitWithoutCapture Phase = "COMMIT_WITHOUT_CAPTURE"
	PhaseCacheFallback        Phase = "CACHE_FALLBACK"
	PhaseVerified             Phase = "VERIFIED"
	PhaseFailed               Phase = "FAILED"
	PhaseUnverified           Phase = "UNVERIFIED"
)

// matcherSet is the matcher list for one navigation. It resolves exactly
// once, either from the referring page or empty.
type matcherSet struct {
	once sync.Once
	done chan struct{}
	list []matcher.Matcher
}

func newMatcherSet() *matcherSet {
	return &matcherSet{done: make(chan struct{})}
}

func resolvedMatchers(ms []matcher.Matcher) *matcherSet {
	s := newMatcherSet()
	s.resolve(ms)
	return s
}

func (s *matcherSet) resolve(ms []matcher.Matcher) bool {
	ok := false
	s.once.Do(func() {
		s.list = ms
		close(s.done)
		ok = true
	})
	return ok
}

// attempt is one verification attempt: one per navigation, replaced on
// redirect. Fields other than the signals are guarded by Coordinator.mu.
type attempt struct {
	ctx       context.Context
	cancel    context.CancelFunc
	contextID string
	referrer  string
	url       string
	requestID string
	matchers  *matcherSet

	captured  *Signal[*capture.Capture]
	committed *Signal[string]

	capture *capture.Capture
	phase   Phase

	settled chan struct{}
	outcome trust.Outcome
}

// abandon cancels the attempt and its capture. The attempt never settles
// afterwards.
func (a *attempt) abandon() {
	a.cancel()
	if a.capture != nil {
		a.capture.Cancel()
	}
}

// contextState is the ephemeral state of one browsing context.
type contextState struct {
	id string
	// url is the last committed document.
	url string

	outcome    trust.Outcome
	hasOutcome bool

	ignored map[trust.KeyID]struct{}

	// referrer is set by CreatedNavigationTarget and consumed by the first
	// navigation in the context.
	referrer string

	// declared holds matchers delivered at unload time for the page in url,
	// waiting holds the matcher set of a navigation still expecting them.
	declared []matcher.Matcher
	waiting  *matcherSet

	attempt *attempt

	// verifyMu keeps verifications in one context sequential.
	verifyMu sync.Mutex
}

// contexts is the registry of context state, indexed by context id.
// Entries live until removed explicitly. Callers hold Coordinator.mu.
type contexts map[string]*contextState

func (cs contexts) get(id string) *contextState {
	st, ok := cs[id]
	if !ok {
		st = &contextState{id: id, ignored: make(map[trust.KeyID]struct{})}
		cs[id] = st
	}
	return st
}

func (cs contexts) remove(id string) *contextState {
	st, ok := cs[id]
	if !ok {
		return nil
	}
	delete(cs, id)
	return st
}

// tracker counts in-flight background work.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	idle := make(chan struct{})
	close(idle)
	return &tracker{idle: idle}
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
