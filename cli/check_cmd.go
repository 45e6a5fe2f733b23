package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/webverify/webverify/browser"
	"github.com/webverify/webverify/cli/tui"
	"github.com/webverify/webverify/matcher"
	"github.com/webverify/webverify/messaging"
	"github.com/webverify/webverify/navigation"
	"github.com/webverify/webverify/trust"
)

const maxParallelChecks = 4

// checkResult is the report for one browsing context.
type checkResult struct {
	ContextID string         `json:"context_id"`
	URL       string         `json:"url"`
	Outcome   *trust.Outcome `json:"outcome,omitempty"`
	Redirect  string         `json:"redirect,omitempty"`
	Archive   string         `json:"archive,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// checkRun opens every URL in its own browsing context.
type checkRun struct {
	browser *browser.Browser
	coord   *navigation.Coordinator
	dest    navigation.Destinations
	follow  string

	entries []tui.Entry
	finals  []string
	errs    []error
}

// runCheck implements the "webverify check" command.
func runCheck(o *globalOptions, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)

	var (
		tuiFlag   bool
		jsonFlag  bool
		noCapture bool
		follow    string
		timeout   time.Duration
	)

	fs.BoolVar(&tuiFlag, "tui", false, "show outcomes in the interactive popup")
	fs.BoolVar(&jsonFlag, "json", false, "output JSON")
	fs.BoolVar(&noCapture, "no-capture", false, "do not intercept page bodies (cache fallback only)")
	fs.StringVar(&follow, "follow", "", "follow this link from each page before reporting")
	fs.DurationVar(&timeout, "timeout", time.Minute, "time limit for all navigations")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify check [flags] <url>...")
		return 2
	}

	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	b := browser.New(browser.WithCapture(!noCapture), browser.WithLogger(e.logger))
	hub := messaging.NewHub(messaging.WithHubLogger(e.logger))
	coord := e.coordinator(b, navigation.WithNotifier(hub))
	b.Attach(coord)
	hub.Bind(coord)
	defer func() { _ = coord.Close() }()

	cr := &checkRun{
		browser: b,
		coord:   coord,
		dest:    e.cfg.Destinations(),
		follow:  follow,
		entries: make([]tui.Entry, fs.NArg()),
		finals:  make([]string, fs.NArg()),
		errs:    make([]error, fs.NArg()),
	}
	for i, u := range fs.Args() {
		cr.entries[i] = tui.Entry{ContextID: fmt.Sprintf("ctx-%d", i+1), URL: u}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tuiFlag && !isTerminal() {
		fmt.Fprintln(os.Stderr, "check: stdout is not a terminal, printing results")
		tuiFlag = false
	}

	if tuiFlag {
		relay := tui.NewRelay(16 * len(cr.entries))
		for _, ent := range cr.entries {
			hub.Subscribe(relay, ent.ContextID)
		}
		router := messaging.NewRouter(hub, coord, e.policy, messaging.WithRouterLogger(e.logger))
		send := func(m messaging.Message) error { return router.Handle(relay, m) }

		go func() {
			if err := cr.visit(ctx); err != nil {
				e.logger.Warn("navigations did not finish", "error", err)
			}
		}()

		p := tea.NewProgram(tui.New(cr.entries, relay, send), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		cancel()
		return exitCode(cr.results())
	}

	if err := cr.visit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	results := cr.results()

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
	} else {
		printResults(results)
	}
	return exitCode(results)
}

// visit opens every entry, at most maxParallelChecks at a time, and waits
// until their verifications and policy passes are done. Navigation errors
// are recorded per entry.
func (cr *checkRun) visit(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(maxParallelChecks)

	for i, ent := range cr.entries {
		g.Go(func() error {
			page, err := cr.browser.Open(ctx, ent.ContextID, ent.URL, navigation.TransitionTyped)
			if err == nil && cr.follow != "" {
				page, err = cr.browser.Follow(ctx, ent.ContextID, cr.follow)
			}
			if err != nil {
				// The navigation never commits; drop the pending attempt.
				cr.browser.Close(ent.ContextID)
				cr.errs[i] = err
				return nil
			}
			cr.finals[i] = page.URL
			return nil
		})
	}
	_ = g.Wait()

	if err := cr.coord.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for verification: %w", err)
	}
	return nil
}

// results reports the outcome and redirect of every context.
func (cr *checkRun) results() []checkResult {
	redirects := make(map[string]string)
	for _, r := range cr.browser.Redirects() {
		redirects[r.ContextID] = r.URL
	}

	out := make([]checkResult, len(cr.entries))
	for i, ent := range cr.entries {
		res := checkResult{ContextID: ent.ContextID, URL: ent.URL}
		if cr.finals[i] != "" {
			res.URL = cr.finals[i]
		}
		if err := cr.errs[i]; err != nil {
			res.Error = err.Error()
		}
		if o, ok := cr.coord.Outcome(ent.ContextID); ok {
			res.Outcome = &o
		}
		if red, ok := redirects[ent.ContextID]; ok {
			res.Redirect = red
			res.Archive = cr.archiveLink(red)
		}
		out[i] = res
	}
	return out
}

// archiveLink returns the Web Archive link offered by a warning page, or
// "" for other destinations.
func (cr *checkRun) archiveLink(redirect string) string {
	if !strings.HasPrefix(redirect, cr.dest.Warning) {
		return ""
	}
	u, err := url.Parse(redirect)
	if err != nil {
		return ""
	}
	q := u.Query()
	target := q.Get("url")
	if target == "" {
		return ""
	}
	var d time.Time
	if s := q.Get("date"); s != "" {
		d, _ = matcher.ParseDate(s)
	}
	return matcher.ArchiveURL(target, d)
}

func printResults(results []checkResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTEXT\tSTATUS\tURL\tAUTHOR")
	for _, r := range results {
		status, author := "-", ""
		if o := r.Outcome; o != nil {
			status = string(o.Status)
			if o.FromCache && o.IsVerdict() {
				status += " (cached)"
			}
			if a := o.Author; a != nil {
				author = fmt.Sprintf("%s <%s> %s", a.Name, a.Email, a.KeyID)
			}
		}
		if r.Error != "" {
			status = "ERROR"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ContextID, status, r.URL, author)
	}
	w.Flush()

	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("%s: %s\n", r.ContextID, r.Error)
		}
		if r.Outcome != nil && r.Outcome.Error != "" {
			fmt.Printf("%s: %s\n", r.ContextID, r.Outcome.Error)
		}
		if r.Redirect != "" {
			fmt.Printf("%s: redirected to %s\n", r.ContextID, r.Redirect)
		}
		if r.Archive != "" {
			fmt.Printf("%s: archived copy: %s\n", r.ContextID, r.Archive)
		}
	}
}

// exitCode is 2 when a navigation failed, 1 when a page failed
// verification or was redirected, else 0.
func exitCode(results []checkResult) int {
	code := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			return 2
		case r.Redirect != "":
			code = 1
		case r.Outcome != nil && r.Outcome.Status == trust.StatusFailure:
			code = 1
		}
	}
	return code
}

// isTerminal returns true if stdout is connected to a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
