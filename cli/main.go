// Package main is the entry point for the webverify CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath string
	logger     *slog.Logger
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code.
// 0 = success, 1 = a page failed verification or was redirected, 2 = error.
func run(args []string) int {
	fs := flag.NewFlagSet("webverify", flag.ContinueOnError)

	var (
		configPath  string
		quietFlag   bool
		verboseFlag bool
		versionFlag bool
	)

	fs.StringVar(&configPath, "config", "", "path to webverify.yaml (default: $WEBVERIFY_HOME/webverify.yaml)")
	fs.BoolVar(&quietFlag, "quiet", false, "log errors only")
	fs.BoolVar(&quietFlag, "q", false, "log errors only (shorthand)")
	fs.BoolVar(&verboseFlag, "verbose", false, "enable debug logging")
	fs.BoolVar(&verboseFlag, "v", false, "enable debug logging (shorthand)")
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webverify <command> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  serve            Run the native messaging host on stdio\n")
		fmt.Fprintf(os.Stderr, "  mcp              Start MCP server on stdio\n")
		fmt.Fprintf(os.Stderr, "  check <url>...   Open pages and report their verification outcome\n")
		fmt.Fprintf(os.Stderr, "  policy           Manage author decisions\n")
		fmt.Fprintf(os.Stderr, "  cache            Inspect the verification result cache\n")
		fmt.Fprintf(os.Stderr, "  completion       Generate shell completions\n")
		fmt.Fprintf(os.Stderr, "  version          Print version and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if versionFlag {
		printVersion()
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify <command> [flags]")
		return 2
	}

	level := slog.LevelWarn
	switch {
	case verboseFlag:
		level = slog.LevelDebug
	case quietFlag:
		level = slog.LevelError
	}
	opts := &globalOptions{
		configPath: configPath,
		logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	command := remaining[0]
	switch command {
	case "serve":
		return runServe(opts, remaining[1:])
	case "mcp":
		return runMCP(opts, remaining[1:])
	case "check":
		return runCheck(opts, remaining[1:])
	case "policy":
		return runPolicy(opts, remaining[1:])
	case "cache":
		return runCache(opts, remaining[1:])
	case "completion":
		return runCompletion(remaining[1:])
	case "version":
		printVersion()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Usage: webverify <command> [flags]")
		return 2
	}
}

func printVersion() {
	fmt.Printf("webverify %s (commit: %s, built: %s)\n", version, commit, date)
}
