// Command workflow-cli validates workflow files and runs them in-process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/engine"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/inventory"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/memory"
	"github.com/Ingenimax/workflow-engine/pkg/orders"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

const usage = `Usage:
  workflow-cli validate <file>
  workflow-cli run <file> [--payload json] [--trigger manual|schedule|event] [--stock json] [--orders json] [--verbose]
`

// exitError carries a process exit code without printing anything more
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	var exit exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(out, usage)
		return exitError{code: 2}
	}
	switch args[0] {
	case "validate":
		if len(args) != 2 {
			fmt.Fprint(out, usage)
			return exitError{code: 2}
		}
		return validateFile(args[1], out)
	case "run":
		return runFile(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return exitError{code: 2}
	}
}

type triggerPlan struct {
	ID    string            `json:"id"`
	Type  workflow.NodeType `json:"type"`
	Order []string          `json:"order"`
}

func validateFile(path string, out io.Writer) error {
	wf, err := workflow.LoadFile(path)
	if err != nil {
		return err
	}
	registry, err := newRegistry(out, nil, nil)
	if err != nil {
		return err
	}
	graph, err := workflow.Validate(&wf.Definition, workflow.WithPortResolver(registry))
	if err != nil {
		var gerr *workflow.GraphError
		if errors.As(err, &gerr) {
			fmt.Fprintf(out, "invalid: %v\n", gerr)
			return exitError{code: 1}
		}
		return err
	}

	plans := make([]triggerPlan, 0)
	for _, t := range graph.Triggers() {
		plans = append(plans, triggerPlan{ID: t.ID, Type: t.Type, Order: graph.TopologicalOrder(t.ID)})
	}
	fmt.Fprintf(out, "%s is valid\n", wf.ID)
	return writeJSON(out, plans)
}

// consoleNotifier prints notifications instead of delivering them
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Notify(_ context.Context, note interfaces.Notification) error {
	_, err := fmt.Fprintf(n.out, "[%s -> %s] %s %s\n", note.Channel, note.Recipient, note.Subject, note.Message)
	return err
}

func runFile(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(out, usage)
		return exitError{code: 2}
	}
	path := args[0]

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	payloadJSON := fs.String("payload", "", "JSON trigger payload")
	triggerKind := fs.String("trigger", "manual", "Trigger to fire: manual, schedule or event")
	stockJSON := fs.String("stock", "", "JSON object of starting inventory by SKU")
	ordersJSON := fs.String("orders", "", "JSON object of order statuses by order id")
	verbose := fs.Bool("verbose", false, "Log engine activity to stderr")
	if err := fs.Parse(args[1:]); err != nil {
		return exitError{code: 2}
	}

	wf, err := workflow.LoadFile(path)
	if err != nil {
		return err
	}

	var payload interface{}
	if *payloadJSON != "" {
		if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}
	stock := map[string]int{}
	if *stockJSON != "" {
		if err := json.Unmarshal([]byte(*stockJSON), &stock); err != nil {
			return fmt.Errorf("invalid --stock: %w", err)
		}
	}
	statuses := map[string]string{}
	if *ordersJSON != "" {
		if err := json.Unmarshal([]byte(*ordersJSON), &statuses); err != nil {
			return fmt.Errorf("invalid --orders: %w", err)
		}
	}

	logger := logging.NewNop()
	if *verbose {
		logger = logging.New(logging.WithConsole(true), logging.WithLevel("debug"))
	}

	registry, err := newRegistry(out, stock, statuses)
	if err != nil {
		return err
	}

	source, err := catalog.NewMemory(wf)
	if err != nil {
		return err
	}
	eng := engine.New(registry, source, engine.WithLogger(logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(shutdownCtx)
	}()

	runID, err := fire(ctx, eng, wf, *triggerKind, payload)
	if err != nil {
		return err
	}

	result, err := eng.Wait(ctx, runID)
	if errors.Is(err, context.Canceled) {
		_ = eng.Cancel(context.Background(), runID)
		result, err = eng.Wait(context.Background(), runID)
	}
	if err != nil {
		return err
	}

	if err := writeJSON(out, result); err != nil {
		return err
	}
	if result.Status != workflow.RunStatusSuccess {
		return exitError{code: 1}
	}
	return nil
}

// newRegistry builds the local connector set: real HTTP calls, in-memory
// inventory, orders and memory, notifications printed to out
func newRegistry(out io.Writer, stock map[string]int, statuses map[string]string) (*connector.Registry, error) {
	console := consoleNotifier{out: out}
	return connector.NewBuiltinRegistry(connector.Host{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Inventory:  inventory.NewMemory(stock),
		Orders:     orders.NewMemory(statuses),
		Memories:   map[string]interfaces.Memory{memory.TypeBuffer: memory.NewBuffer()},
		Notifiers: map[string]interfaces.Notifier{
			connector.ChannelSlack: console,
			"email":                console,
			"sms":                  console,
		},
		DefaultChannel: connector.ChannelSlack,
	})
}

func fire(ctx context.Context, eng *engine.Engine, wf *workflow.Workflow, kind string, payload interface{}) (string, error) {
	switch kind {
	case "manual":
		return eng.FireManual(ctx, wf.ID, payload)
	case "schedule":
		if payload == nil {
			return eng.FireScheduled(ctx, wf.ID)
		}
		return fireFirst(ctx, eng, wf, workflow.NodeTypeScheduleTrigger, payload)
	case "event":
		return fireFirst(ctx, eng, wf, workflow.NodeTypeEventTrigger, payload)
	default:
		return "", fmt.Errorf("unknown --trigger %q", kind)
	}
}

func fireFirst(ctx context.Context, eng *engine.Engine, wf *workflow.Workflow, t workflow.NodeType, payload interface{}) (string, error) {
	triggers := wf.Definition.Triggers(t)
	if len(triggers) == 0 {
		return "", fmt.Errorf("%w: %s has no %s node", engine.ErrNoMatchingTrigger, wf.ID, t)
	}
	return eng.FireTrigger(ctx, wf.ID, triggers[0].ID, payload)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
