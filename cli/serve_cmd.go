package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/webverify/webverify/messaging"
	"github.com/webverify/webverify/navigation"
)

// runServe runs the native messaging host: the extension talks to it over
// stdin and stdout until it disconnects.
func runServe(o *globalOptions, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var watch bool
	fs.BoolVar(&watch, "watch", true, "reload author decisions changed by another process")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	conn := messaging.NewConn(os.Stdin, os.Stdout)
	bridge := messaging.NewBridge(conn, messaging.WithBridgeLogger(e.logger))
	hub := messaging.NewHub(messaging.WithHubLogger(e.logger))
	coord := e.coordinator(bridge, navigation.WithNotifier(hub))
	hub.Bind(coord)
	router := messaging.NewRouter(hub, coord, e.policy, messaging.WithRouterLogger(e.logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		go func() {
			if err := e.policy.Watch(ctx); err != nil {
				e.logger.Warn("policy watch stopped", "error", err)
			}
		}()
	}

	e.logger.Info("native host started", "state", e.layout.Dir)
	serveErr := bridge.Serve(ctx, coord, router)
	stop()
	if err := coord.Close(); err != nil {
		e.logger.Warn("closing coordinator", "error", err)
	}
	if serveErr != nil {
		fmt.Fprintf(os.Stderr, "error: native host failed: %v\n", serveErr)
		return 2
	}
	return 0
}
