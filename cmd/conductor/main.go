// Command conductor dispatches requests to registered capabilities,
// runs multi-step pipeline plans, and serves the capabilities as MCP
// tools over stdio.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/core"
	conductormcp "github.com/avollmer/conductor/pkg/mcp"
	"github.com/avollmer/conductor/pkg/pipeline"
)

const version = "1.0.0"

// errRunFailed marks a pipeline run that completed without success.
// The step table has already been printed; only the exit code remains.
var errRunFailed = stderrors.New("pipeline run failed")

type globalFlags struct {
	ConfigPath string
	JSON       bool
	Help       bool
}

// main defers all cleanup to run so the audit store and telemetry
// exporters are flushed before the process exits.
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, rest, err := parseGlobalFlags(args)
	if err != nil {
		return fail(err)
	}
	if global.Help || len(rest) == 0 {
		printUsage()
		return 0
	}

	cmd := rest[0]
	switch cmd {
	case "help":
		printUsage()
		return 0
	case "version":
		fmt.Println("conductor " + version)
		return 0
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		return fail(err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	switch cmd {
	case "dispatch":
		err = runDispatch(ctx, a, global, rest[1:])
	case "run":
		err = runPlan(ctx, a, global, rest[1:])
	case "capabilities":
		err = runCapabilities(a, global)
	case "health":
		err = runHealth(a, global)
	case "mcp":
		err = runMCPServe(a)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		if stderrors.Is(err, errRunFailed) {
			return 1
		}
		return fail(err)
	}
	return 0
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "conductor:", err)
	return 1
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var global globalFlags
	fs := flag.NewFlagSet("conductor", flag.ContinueOnError)
	fs.StringVar(&global.ConfigPath, "config", "", "path to config file")
	fs.BoolVar(&global.JSON, "json", false, "print machine-readable JSON")
	fs.BoolVar(&global.Help, "help", false, "show usage")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return global, nil, err
	}
	return global, fs.Args(), nil
}

// runDispatch sends one request and prints the response envelope.
func runDispatch(ctx context.Context, a *app, global globalFlags, args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	data := fs.String("data", "{}", "request payload as JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conductor dispatch [-data JSON] <capability>")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(*data), &payload); err != nil {
		return fmt.Errorf("invalid -data: %w", err)
	}

	resp := a.router.Dispatch(ctx, core.Request{Type: fs.Arg(0), Data: payload})
	if global.JSON {
		return printJSON(resp)
	}
	if resp.Success {
		fmt.Printf("capability: %s (%s)\n", resp.Capability, resp.Elapsed)
		return printJSON(resp.Data)
	}
	return fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
}

// runPlan executes a pipeline plan file and prints the run result.
func runPlan(ctx context.Context, a *app, global globalFlags, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conductor run <plan.yaml>")
	}

	plan, err := pipeline.LoadPlan(fs.Arg(0))
	if err != nil {
		return err
	}
	result, err := a.executor.Run(ctx, plan)
	if err != nil {
		return err
	}
	if global.JSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("run %s: %s\n", result.RunID, result.Status)
		for _, step := range result.Steps {
			mark := "ok"
			if !step.Response.Success {
				mark = string(step.Response.Error.Kind)
			}
			fmt.Printf("  %-20s %-10s %s\n", step.StepID, mark, step.Response.Elapsed)
		}
	}
	if !result.Success {
		return errRunFailed
	}
	return nil
}

func runCapabilities(a *app, global globalFlags) error {
	states := a.registry.HealthSnapshot()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	if global.JSON {
		out := make([]map[string]string, 0, len(names))
		for _, name := range names {
			out = append(out, map[string]string{
				"name":        name,
				"state":       string(states[name]),
				"description": capabilityDescriptions[name],
			})
		}
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tDESCRIPTION")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, states[name], capabilityDescriptions[name])
	}
	return w.Flush()
}

func runHealth(a *app, global globalFlags) error {
	states := a.registry.HealthSnapshot()
	if global.JSON {
		return printJSON(states)
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-20s %s\n", name, states[name])
	}
	return nil
}

// runMCPServe exposes every registered capability as an MCP tool and
// blocks serving stdio.
func runMCPServe(a *app) error {
	server := conductormcp.NewServer(a.cfg.MCP.Name, a.cfg.MCP.Version, a.router)
	names := make([]string, 0, len(capabilityDescriptions))
	for name := range capabilityDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		server.RegisterCapability(name, capabilityDescriptions[name])
	}
	return server.ServeStdio()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Print(`conductor - capability orchestration

Usage:
  conductor [flags] <command> [args]

Commands:
  dispatch [-data JSON] <capability>   send one request and print the envelope
  run <plan.yaml|plan.json>            execute a pipeline plan
  capabilities                         list registered capabilities
  health                               show capability lifecycle states
  mcp                                  serve capabilities as MCP tools on stdio
  version                              print the version
  help                                 show this help

Flags:
  -config path   config file (YAML); env vars use the CONDUCTOR_ prefix
  -json          machine-readable output
`)
}
