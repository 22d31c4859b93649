// ABOUTME: Help display for the pathrun CLI with grouped flags and examples.
// ABOUTME: Provides printHelp for usage output shared by -help and bare invocation.
package main

import (
	"fmt"
	"io"
)

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, and examples.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "pathrun %s - learning pathway execution engine\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pathrun <pathway.json>              Run a pathway graph")
	fmt.Fprintln(w, "  pathrun -validate <pathway.json>    Validate without executing")
	fmt.Fprintln(w, "  pathrun -server                     Start HTTP API server")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Run Flags:")
	fmt.Fprintln(w, "  -bindings <file>      YAML file with initial variable bindings")
	fmt.Fprintln(w, "  -model <name>         Default model for ai-model nodes")
	fmt.Fprintln(w, "  -base-url <url>       Custom API base URL for the AI provider")
	fmt.Fprintln(w, "  -verbose              Print every run event")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server Flags:")
	fmt.Fprintln(w, "  -server               Start HTTP server mode")
	fmt.Fprintln(w, "                        (bind address and auth come from PATHRUN_* env vars)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other:")
	fmt.Fprintln(w, "  -validate             Validate a pathway graph without executing")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  pathrun lesson.json")
	fmt.Fprintln(w, "  pathrun -bindings learner.yaml -verbose lesson.json")
	fmt.Fprintln(w, "  PATHRUN_BIND=127.0.0.1:8140 pathrun -server")
}
