package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/invoker"
	"github.com/waffletower/invokeai-graph/queue"
	"github.com/waffletower/invokeai-graph/registry"
	"github.com/waffletower/invokeai-graph/runtime"
	"github.com/waffletower/invokeai-graph/store"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a graph document to completion",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("format", "pretty", "Output format: json | pretty")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("dry-run", false, "Validate and compile only, do not execute")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out := cmd.OutOrStdout()

	g, err := loadGraphDocument(filePath)
	if err != nil {
		return err
	}
	if err := g.IsValid(); err != nil {
		return exitError(exitValidation, "validation failed: %v", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		fmt.Fprintln(out, "Validation and compilation successful.")
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sessionStore := store.NewMemStore()
	workQueue := queue.NewMemQueue(64)
	defer workQueue.Close()

	inv := invoker.New(sessionStore, workQueue, core.NewServices())

	state, err := inv.CreateExecutionState(ctx, g)
	if err != nil {
		return exitError(exitRuntime, "creating execution state: %v", err)
	}

	if err := driveToCompletion(ctx, inv, state, workQueue); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return exitError(exitTimeout, "execution timed out after %s", timeout)
		}
		return exitError(exitRuntime, "execution failed: %v", err)
	}

	if state.HasError() {
		for nodeID, msg := range state.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "node %s failed: %s\n", nodeID, msg)
		}
		return exitError(exitRuntime, "execution completed with errors")
	}

	format, _ := cmd.Flags().GetString("format")
	return writeResults(out, state, format)
}

// driveToCompletion pulls ready nodes from the invoker one at a time,
// executes each in-process, records its result, and drains the matching
// queue item (standing in here for the external worker a real deployment
// would run against the same queue, per spec.md §6's "work queue item" as
// an external collaborator). Stops on the first node error or once the
// invoker reports nothing left to prepare.
func driveToCompletion(ctx context.Context, inv *invoker.Invoker, state *runtime.ExecutionState, workQueue *queue.MemQueue) error {
	for {
		node, err := inv.Invoke(ctx, state, false)
		if err != nil {
			return err
		}
		if node == nil {
			return nil
		}

		item, err := workQueue.Get(ctx)
		if err != nil {
			return err
		}
		if item == nil || item.InvocationID != node.ID() {
			return fmt.Errorf("cli: queue item mismatch for node %s", node.ID())
		}

		ictx := core.InvocationContext{
			Services:         inv.Services,
			ExecutionStateID: state.ID,
			NodeID:           node.ID(),
		}
		output, err := node.Invoke(ctx, ictx)
		if err != nil {
			state.SetError(node.ID(), err.Error())
			return nil
		}
		state.Complete(node.ID(), output)

		if err := inv.Store.Set(ctx, state); err != nil {
			return err
		}
	}
}

// resultDoc is a JSON-serializable rendering of a core.Output: core.Output
// itself is implemented by variant structs whose fields are private to
// their package, so printing one requires pulling its declared output
// fields out by name first. Mirrors store.outputDoc/encodeOutput.
type resultDoc struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

func encodeResult(nodeID string, output core.Output, state *runtime.ExecutionState) resultDoc {
	doc := resultDoc{Type: output.Type()}
	node, err := state.ExecutionGraph.GetNode(nodeID)
	if err != nil {
		return doc
	}
	def, ok := registry.Global().Get(node.Type())
	if !ok {
		return doc
	}
	fields := make(map[string]any)
	for _, fd := range def.Schema.Outputs {
		if v, ok := output.Field(fd.Name); ok {
			fields[fd.Name] = v
		}
	}
	if len(fields) > 0 {
		doc.Fields = fields
	}
	return doc
}

// writeResults prints every recorded source-node result, keyed by the
// dotted source path it maps back to.
func writeResults(out io.Writer, state *runtime.ExecutionState, format string) error {
	type namedResult struct {
		Path string
		Doc  resultDoc
	}
	var results []namedResult
	for nodeID, output := range state.Results {
		path, ok := state.PreparedSourceMapping[nodeID]
		if !ok {
			continue
		}
		results = append(results, namedResult{Path: path, Doc: encodeResult(nodeID, output, state)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	if format == "json" {
		payload := make(map[string]resultDoc, len(results))
		for _, r := range results {
			payload[r.Path] = r.Doc
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	for _, r := range results {
		fmt.Fprintf(out, "%s: %+v\n", r.Path, r.Doc)
	}
	return nil
}
