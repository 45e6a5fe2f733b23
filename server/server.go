// Package server implements the MCP server for operator actions: author
// decisions, per-context outcomes and on-demand document verification.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/webverify/webverify/browser"
	"github.com/webverify/webverify/capture"
	"github.com/webverify/webverify/navigation"
	"github.com/webverify/webverify/store"
	"github.com/webverify/webverify/trust"
)

const (
	// maxOutputBytes is the maximum response size before truncation (1 MB).
	maxOutputBytes = 1 << 20
)

// Contexts exposes the live navigation state of browsing contexts.
type Contexts interface {
	Outcome(contextID string) (trust.Outcome, bool)
	IgnoreKey(contextID string, id trust.KeyID)
	WaitIdle(ctx context.Context) error
}

// Navigator loads pages into browsing contexts.
type Navigator interface {
	Open(ctx context.Context, contextID, rawURL string, tr navigation.Transition) (*browser.Page, error)
}

// Server is the webverify MCP server.
type Server struct {
	version    string
	verifier   navigation.DocumentVerifier
	policy     *store.PolicyStore
	results    *store.ResultCache
	contexts   Contexts
	navigator  Navigator
	httpClient *http.Client
	maxBody    int64
	logger     *slog.Logger
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithVerifier enables verify_document.
func WithVerifier(v navigation.DocumentVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithPolicy enables the author decision tools.
func WithPolicy(p *store.PolicyStore) Option {
	return func(s *Server) { s.policy = p }
}

// WithResults sets the result cache verify_document writes to.
func WithResults(rc *store.ResultCache) Option {
	return func(s *Server) { s.results = rc }
}

// WithContexts enables get_outcome and ignore_key.
func WithContexts(c Contexts) Option {
	return func(s *Server) { s.contexts = c }
}

// WithNavigator enables open_page.
func WithNavigator(n Navigator) Option {
	return func(s *Server) { s.navigator = n }
}

// WithHTTPClient sets the client verify_document fetches with.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.httpClient = hc }
}

// WithLogger sets the logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new MCP server.
func New(version string, opts ...Option) *Server {
	s := &Server{
		version:    version,
		httpClient: http.DefaultClient,
		maxBody:    capture.DefaultMaxBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve starts the MCP server on stdio and blocks until the client disconnects.
func (s *Server) Serve() error {
	return mcpserver.ServeStdio(s.build())
}

func (s *Server) build() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"webverify",
		s.version,
		mcpserver.WithRecovery(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)

	s.registerTools(srv)
	s.registerResources(srv)
	return srv
}

func (s *Server) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool("get_outcome",
			mcp.WithDescription("Get the verification outcome of a browsing context"),
			mcp.WithString("context_id",
				mcp.Description("Browsing context identifier"),
				mcp.Required(),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetOutcome,
	)

	srv.AddTool(
		mcp.NewTool("verify_document",
			mcp.WithDescription("Fetch a document and verify its detached OpenPGP signature"),
			mcp.WithString("url",
				mcp.Description("Absolute http(s) URL of the document"),
				mcp.Required(),
			),
		),
		s.handleVerifyDocument,
	)

	srv.AddTool(
		mcp.NewTool("open_page",
			mcp.WithDescription("Navigate a browsing context to a URL and report its outcome"),
			mcp.WithString("context_id",
				mcp.Description("Browsing context identifier"),
				mcp.Required(),
			),
			mcp.WithString("url",
				mcp.Description("Absolute http(s) URL to open"),
				mcp.Required(),
			),
		),
		s.handleOpenPage,
	)

	for _, d := range []struct {
		name, description string
		handler           mcpserver.ToolHandlerFunc
	}{
		{"approve_author", "Approve the author owning a key id", s.handleApprove},
		{"reject_author", "Reject the author owning a key id; their pages redirect to a warning", s.handleReject},
		{"forget_author", "Remove the decision recorded for a key id", s.handleForget},
	} {
		srv.AddTool(
			mcp.NewTool(d.name,
				mcp.WithDescription(d.description),
				mcp.WithString("key_id",
					mcp.Description("16 hex digit OpenPGP key id"),
					mcp.Required(),
				),
			),
			d.handler,
		)
	}

	srv.AddTool(
		mcp.NewTool("ignore_key",
			mcp.WithDescription("Stop redirecting a browsing context away from a rejected key"),
			mcp.WithString("context_id",
				mcp.Description("Browsing context identifier"),
				mcp.Required(),
			),
			mcp.WithString("key_id",
				mcp.Description("16 hex digit OpenPGP key id"),
				mcp.Required(),
			),
		),
		s.handleIgnoreKey,
	)

	srv.AddTool(
		mcp.NewTool("list_decisions",
			mcp.WithDescription("List approved and rejected authors"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListDecisions,
	)
}

func (s *Server) registerResources(srv *mcpserver.MCPServer) {
	srv.AddResource(
		mcp.NewResource("webverify://decisions", "Author decisions",
			mcp.WithResourceDescription("Approved and rejected key ids"),
			mcp.WithMIMEType("application/json"),
		),
		s.handleResourceDecisions,
	)

	srv.AddResource(
		mcp.NewResource("webverify://results", "Verification results",
			mcp.WithResourceDescription("Cached verdicts by document URL"),
			mcp.WithMIMEType("application/json"),
		),
		s.handleResourceResults,
	)
}

// outcomeResult is the JSON shape returned for a single outcome.
type outcomeResult struct {
	ContextID string        `json:"context_id,omitempty"`
	URL       string        `json:"url,omitempty"`
	Outcome   trust.Outcome `json:"outcome"`
}

func (s *Server) handleGetOutcome(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.contexts == nil {
		return mcp.NewToolResultError("no browsing contexts are attached to this server"), nil
	}
	id, err := request.RequireString("context_id")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: context_id"), nil
	}
	o, ok := s.contexts.Outcome(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no outcome for context %q", id)), nil
	}
	return jsonResult(outcomeResult{ContextID: id, Outcome: o})
}

func (s *Server) handleVerifyDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.verifier == nil {
		return mcp.NewToolResultError("verification is not configured"), nil
	}
	rawURL, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: url"), nil
	}
	if !navigation.Verifiable(rawURL) {
		return mcp.NewToolResultError(fmt.Sprintf("%q is not an http(s) document", rawURL)), nil
	}

	content, err := s.fetch(ctx, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	o := s.verifier.Verify(ctx, rawURL, content)
	if o.Persistable() && s.results != nil {
		if err := s.results.Put(rawURL, o); err != nil {
			s.logger.Warn("persisting result failed", "url", rawURL, "error", err)
		}
	}
	return jsonResult(outcomeResult{URL: rawURL, Outcome: o})
}

func (s *Server) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(content)) > s.maxBody {
		return nil, fmt.Errorf("%w: %s", capture.ErrTooLarge, rawURL)
	}
	return content, nil
}

func (s *Server) handleOpenPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.navigator == nil || s.contexts == nil {
		return mcp.NewToolResultError("no browser is attached to this server"), nil
	}
	id, err := request.RequireString("context_id")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: context_id"), nil
	}
	rawURL, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: url"), nil
	}

	page, err := s.navigator.Open(ctx, id, rawURL, navigation.TransitionTyped)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("navigation failed: %v", err)), nil
	}
	if err := s.contexts.WaitIdle(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("waiting for verification: %v", err)), nil
	}
	o, ok := s.contexts.Outcome(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s was not verified", page.URL)), nil
	}
	return jsonResult(outcomeResult{ContextID: id, URL: page.URL, Outcome: o})
}

func (s *Server) handleApprove(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.decide(request, "approved", func(id trust.KeyID) error { return s.policy.Approve(id) })
}

func (s *Server) handleReject(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.decide(request, "rejected", func(id trust.KeyID) error { return s.policy.Reject(id) })
}

func (s *Server) handleForget(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.decide(request, "forgot", func(id trust.KeyID) error { return s.policy.Forget(id) })
}

func (s *Server) decide(request mcp.CallToolRequest, verb string, apply func(trust.KeyID) error) (*mcp.CallToolResult, error) {
	if s.policy == nil {
		return mcp.NewToolResultError("author decisions are not configured"), nil
	}
	id, err := keyArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := apply(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("saving decision: %v", err)), nil
	}
	s.logger.Info("author decision", "key_id", id, "action", verb)
	return mcp.NewToolResultText(fmt.Sprintf("%s %s", verb, id)), nil
}

func (s *Server) handleIgnoreKey(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.contexts == nil {
		return mcp.NewToolResultError("no browsing contexts are attached to this server"), nil
	}
	ctxID, err := request.RequireString("context_id")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: context_id"), nil
	}
	id, err := keyArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.contexts.IgnoreKey(ctxID, id)
	return mcp.NewToolResultText(fmt.Sprintf("ignoring %s in %s", id, ctxID)), nil
}

func (s *Server) handleListDecisions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.policy == nil {
		return mcp.NewToolResultError("author decisions are not configured"), nil
	}
	return jsonResult(decisions(s.policy))
}

// Resource handlers.

func (s *Server) handleResourceDecisions(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.policy == nil {
		return nil, errors.New("author decisions are not configured")
	}
	data, err := json.MarshalIndent(decisions(s.policy), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding decisions: %w", err)
	}
	return textContents(request, data), nil
}

func (s *Server) handleResourceResults(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.results == nil {
		return nil, errors.New("result cache is not configured")
	}
	entries, err := s.results.Entries()
	if err != nil && len(entries) == 0 {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	if entries == nil {
		entries = []store.ResultEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}
	return textContents(request, data), nil
}

func decisions(p *store.PolicyStore) []store.PolicyEntry {
	all := p.All()
	if all == nil {
		return []store.PolicyEntry{}
	}
	return all
}

func keyArg(request mcp.CallToolRequest) (trust.KeyID, error) {
	raw, err := request.RequireString("key_id")
	if err != nil {
		return "", errors.New("missing required argument: key_id")
	}
	return trust.ParseKeyID(raw)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(truncate(string(data))), nil
}

func textContents(request mcp.ReadResourceRequest, data []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     truncate(string(data)),
		},
	}
}

// truncate limits output to maxOutputBytes, appending a truncation notice if needed.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... [truncated: output exceeded 1MB limit]"
}
