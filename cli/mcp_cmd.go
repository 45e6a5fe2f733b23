package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/webverify/webverify/browser"
	"github.com/webverify/webverify/server"
)

// runMCP starts the MCP server on stdio. Pages opened through it are
// loaded by a headless browser and verified like extension navigations.
func runMCP(o *globalOptions, args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	var noCapture bool
	fs.BoolVar(&noCapture, "no-capture", false, "do not intercept page bodies (cache fallback only)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	b := browser.New(browser.WithCapture(!noCapture), browser.WithLogger(e.logger))
	coord := e.coordinator(b)
	b.Attach(coord)
	defer func() { _ = coord.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := e.policy.Watch(ctx); err != nil {
			e.logger.Warn("policy watch stopped", "error", err)
		}
	}()

	srv := server.New(version,
		server.WithVerifier(e.verifier),
		server.WithPolicy(e.policy),
		server.WithResults(e.results),
		server.WithContexts(coord),
		server.WithNavigator(b),
		server.WithLogger(e.logger),
	)
	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "error: MCP server failed: %v\n", err)
		return 2
	}
	return 0
}
