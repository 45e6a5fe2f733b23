package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/webverify/webverify/trust"
)

// runPolicy dispatches policy subcommands.
func runPolicy(o *globalOptions, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify policy <approve|reject|forget|list>")
		return 2
	}

	switch args[0] {
	case "approve", "reject", "forget":
		return runPolicyDecide(o, args[0], args[1:])
	case "list":
		return runPolicyList(o, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown policy command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: webverify policy <approve|reject|forget|list>")
		return 2
	}
}

// runPolicyDecide records or removes the decision on one key.
func runPolicyDecide(o *globalOptions, action string, args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: webverify policy %s <key-id>\n", action)
		return 2
	}
	id, err := trust.ParseKeyID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	e, err := loadEnv(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	var verb string
	switch action {
	case "approve":
		verb = "approved"
		err = e.policy.Approve(id)
	case "reject":
		verb = "rejected"
		err = e.policy.Reject(id)
	default:
		verb = "forgot"
		err = e.policy.Forget(id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	fmt.Printf("%s %s\n", verb, id)
	return 0
}

// runPolicyList prints every decision.
func runPolicyList(o *globalOptions, args []string) int {
	fs := flag.NewFlagSet("policy list", flag.ContinueOnError)
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
	entries := e.policy.All()

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
		fmt.Println("No author decisions.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY ID\tDECISION")
	for _, d := range entries {
		fmt.Fprintf(w, "%s\t%s\n", d.KeyID, d.Decision)
	}
	w.Flush()
	return 0
}
