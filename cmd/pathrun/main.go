// ABOUTME: CLI entrypoint for the pathrun learning pathway engine with run, validate, and server modes.
// ABOUTME: Wires together the engine runner, AI provider, HTTP server, and signal handling.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/lessonforge/pathrun/engine"
	"github.com/lessonforge/pathrun/provider"
	"github.com/lessonforge/pathrun/server"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional arguments.
type config struct {
	serverMode   bool
	validateOnly bool
	bindingsFile string
	model        string
	baseURL      string
	verbose      bool
	showVersion  bool
	graphFile    string
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("pathrun %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("pathrun", flag.ContinueOnError)
	fs.BoolVar(&cfg.serverMode, "server", false, "Start HTTP server mode")
	fs.BoolVar(&cfg.validateOnly, "validate", false, "Validate pathway without executing")
	fs.StringVar(&cfg.bindingsFile, "bindings", "", "YAML file with initial variable bindings")
	fs.StringVar(&cfg.model, "model", "", "Default model for ai-model nodes")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Custom API base URL for the AI provider")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print every run event")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.graphFile = fs.Arg(0)
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	if cfg.serverMode {
		return runServer(cfg)
	}

	if cfg.graphFile == "" {
		printHelp(os.Stderr, version)
		return 0
	}

	if cfg.validateOnly {
		return validateGraph(cfg)
	}

	return runGraph(cfg)
}

// runGraph loads a pathway document and executes it to completion, answering
// human-input suspensions interactively on stdin.
func runGraph(cfg config) int {
	data, err := os.ReadFile(cfg.graphFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	graph, err := engine.LoadGraph(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	bindings, err := loadBindings(cfg.bindingsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	runner := engine.NewRunner(engine.RunnerConfig{Provider: detectProvider(cfg)})

	runID, err := runner.StartRun(graph, bindings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	events, unsub, err := runner.Subscribe(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer unsub()

	// Graceful cancellation on interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling run...")
		_ = runner.CancelRun(runID)
		cancel()
	}()

	go answerSuspensions(runner, runID, events, cfg.verbose)

	err = runner.Wait(ctx, runID)

	status, _ := runner.Status(runID)
	switch status {
	case engine.StatusCompleted:
		fmt.Println("Pathway completed.")
		printResult(runner, runID)
		return 0
	case engine.StatusCancelled:
		fmt.Fprintln(os.Stderr, "Pathway cancelled.")
		return 1
	default:
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
}

// answerSuspensions watches the event stream, printing events in verbose mode
// and prompting on stdin whenever the run suspends for human input.
func answerSuspensions(runner *engine.Runner, runID string, events <-chan engine.Event, verbose bool) {
	stdin := bufio.NewReader(os.Stdin)

	for evt := range events {
		if verbose {
			fmt.Printf("[%s] %s %s\n", evt.Kind, evt.NodeID, formatPayload(evt.Payload))
		}
		if evt.Kind != engine.EventRunSuspended {
			continue
		}

		prompt := ""
		if p, ok := evt.Payload["reason"].(string); ok {
			prompt = p
		}
		fmt.Printf("\n%s\n> ", prompt)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}
		if err := runner.ResumeHumanInput(runID, evt.NodeID, strings.TrimSpace(line)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not deliver input: %v\n", err)
		}
	}
}

// printResult prints the final bindings of a completed run.
func printResult(runner *engine.Runner, runID string) {
	rc, err := runner.Result(runID)
	if err != nil {
		return
	}
	snap := rc.Snapshot()
	if len(snap) == 0 {
		return
	}
	fmt.Println("Final bindings:")
	for k, v := range snap {
		fmt.Printf("  %s: %v\n", k, v)
	}
}

// formatPayload renders an event payload for verbose output.
func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	parts := make([]string, 0, len(payload))
	for k, v := range payload {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

// validateGraph checks a pathway document's integrity without executing it.
func validateGraph(cfg config) int {
	data, err := os.ReadFile(cfg.graphFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	graph, err := engine.LoadGraph(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return 1
	}

	fmt.Printf("Valid pathway: %d nodes, entry %q\n", graph.NodeCount(), graph.EntryNode().ID)
	return 0
}

// runServer starts the HTTP API server using PATHRUN_* environment config.
func runServer(cfg config) int {
	srvCfg, err := server.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if cfg.model != "" {
		srvCfg.Model = cfg.model
	}
	if cfg.baseURL != "" {
		srvCfg.BaseURL = cfg.baseURL
	}

	runner := engine.NewRunner(engine.RunnerConfig{Provider: providerFromConfig(srvCfg)})
	srv := server.NewServer(runner, srvCfg)

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadBindings reads initial variable bindings from a YAML file.
func loadBindings(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bindings map[string]any
	if err := yaml.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("parsing bindings file: %w", err)
	}
	return bindings, nil
}

// detectProvider builds the AI provider from flags and environment. Returns
// nil when no API key is available; graphs without ai-model nodes run fine
// without one.
func detectProvider(cfg config) provider.Provider {
	apiKey := os.Getenv("PATHRUN_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return provider.NewOpenAIProvider(apiKey, cfg.model, cfg.baseURL)
}

// providerFromConfig builds the AI provider from server configuration.
func providerFromConfig(srvCfg *server.Config) provider.Provider {
	if srvCfg.APIKey == "" {
		return nil
	}
	return provider.NewOpenAIProvider(srvCfg.APIKey, srvCfg.Model, srvCfg.BaseURL)
}
