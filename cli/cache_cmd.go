package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// runCache dispatches cache subcommands.
func runCache(o *globalOptions, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify cache <list|clear|forget>")
		return 2
	}

	switch args[0] {
	case "list":
		return runCacheList(o, args[1:])
	case "clear":
		return runCacheClear(o, args[1:])
	case "forget":
		return runCacheForget(o, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown cache command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: webverify cache <list|clear|forget>")
		return 2
	}
}

// runCacheList prints every cached verdict.
func runCacheList(o *globalOptions, args []string) int {
	fs := flag.NewFlagSet("cache list", flag.ContinueOnError)
	var jsonFlag bool
	fs.BoolVar(&jsonFlag, "json", false, "output as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	entries, err := e.results.Entries()
	if err != nil {
		// Readable entries are still listed.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if jsonFlag {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No cached results.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tKEY ID\tCHECKED\tURL")
	for _, r := range entries {
		keyID := string(r.Outcome.KeyID())
		if keyID == "" {
			keyID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Outcome.Status, keyID, r.CheckedAt.Format(time.RFC3339), r.URL)
	}
	w.Flush()
	return 0
}

// runCacheClear removes every cached verdict.
func runCacheClear(o *globalOptions, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify cache clear")
		return 2
	}
	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if err := e.results.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	fmt.Println("cache cleared")
	return 0
}

// runCacheForget removes the cached verdict of one URL.
func runCacheForget(o *globalOptions, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: webverify cache forget <url>")
		return 2
	}
	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if err := e.results.Delete(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	fmt.Printf("forgot %s\n", args[0])
	return 0
}
