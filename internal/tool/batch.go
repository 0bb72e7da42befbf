package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const batchDescription = `Executes multiple independent tool calls concurrently to reduce latency. Best used for gathering context (reads, searches, listings).

Payload format:
{"tool_calls": [{"tool": "read", "parameters": {"filePath": "src/index.ts", "limit": 350}}, {"tool": "grep", "parameters": {"pattern": "Session\\.updatePart", "include": "**/*.ts"}}]}

Rules:
- 1-10 tool calls per batch
- All calls start in parallel; ordering NOT guaranteed
- Partial failures do not stop others
- batch, edit, question and todoread cannot be batched

Do not batch operations that depend on each other's output.`

const maxBatchSize = 10

var disallowedInBatch = map[string]bool{
	BatchToolName:    true,
	EditToolName:     true,
	QuestionToolName: true,
	TodoReadToolName: true,
}

type batchCall struct {
	Tool       string         `json:"tool" validate:"required" jsonschema_description:"The name of the tool to execute"`
	Parameters map[string]any `json:"parameters" jsonschema_description:"Parameters for the tool"`
}

type batchInput struct {
	ToolCalls []batchCall `json:"tool_calls" validate:"required,min=1,dive" jsonschema_description:"Array of tool calls to execute in parallel"`
}

type batchOutcome struct {
	tool     string
	result   Result
	err      error
	duration time.Duration
}

// NewBatchTool creates the batch tool, which dispatches to tools in registry.
func NewBatchTool(registry *Registry) Tool {
	return Define(BatchToolName, batchDescription, func(ctx context.Context, call Call, in batchInput) (Result, error) {
		calls := in.ToolCalls
		var discarded []batchCall
		if len(calls) > maxBatchSize {
			discarded = calls[maxBatchSize:]
			calls = calls[:maxBatchSize]
		}

		outcomes := make([]batchOutcome, len(calls))
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range calls {
			g.Go(func() error {
				outcomes[i] = runBatchCall(gctx, registry, call, i, c)
				// failures are reported per call, never abort the group
				return nil
			})
		}
		_ = g.Wait()

		for _, c := range discarded {
			outcomes = append(outcomes, batchOutcome{
				tool: c.Tool,
				err:  fmt.Errorf("maximum of %d tools allowed in batch", maxBatchSize),
			})
		}

		return formatBatch(outcomes), nil
	})
}

func runBatchCall(ctx context.Context, registry *Registry, parent Call, index int, c batchCall) (out batchOutcome) {
	start := time.Now()
	out.tool = c.Tool
	defer func() { out.duration = time.Since(start) }()

	if disallowedInBatch[c.Tool] {
		out.err = fmt.Errorf("tool %q is not allowed in batch", c.Tool)
		return out
	}

	args, err := json.Marshal(c.Parameters)
	if err != nil {
		out.err = fmt.Errorf("%w: %s", ErrInvalidArguments, err)
		return out
	}

	sub := parent
	sub.CallID = fmt.Sprintf("%s-batch-%d", parent.CallID, index)
	out.result, out.err = registry.Execute(ctx, c.Tool, sub, string(args))
	return out
}

func formatBatch(outcomes []batchOutcome) Result {
	succeeded := 0
	parts := make([]string, 0, len(outcomes))
	details := make([]map[string]any, 0, len(outcomes))
	names := make([]string, 0, len(outcomes))

	for _, o := range outcomes {
		names = append(names, o.tool)
		detail := map[string]any{
			"tool":    o.tool,
			"success": o.err == nil,
			"time_ms": o.duration.Milliseconds(),
		}
		if o.err != nil {
			parts = append(parts, fmt.Sprintf("=== %s (failed) ===\n%s", o.tool, o.err))
			detail["error"] = o.err.Error()
		} else {
			succeeded++
			parts = append(parts, fmt.Sprintf("=== %s (success) ===\n%s", o.tool, o.result.Output))
			detail["title"] = o.result.Title
		}
		details = append(details, detail)
	}

	failed := len(outcomes) - succeeded
	var output string
	if failed > 0 {
		output = fmt.Sprintf("Executed %d/%d tools successfully. %d failed.\n\n%s",
			succeeded, len(outcomes), failed, strings.Join(parts, "\n\n"))
	} else {
		output = fmt.Sprintf("All %d tools executed successfully.\n\n%s", succeeded, strings.Join(parts, "\n\n"))
	}

	return Result{
		Title:  fmt.Sprintf("Batch execution (%d/%d successful)", succeeded, len(outcomes)),
		Output: output,
		Metadata: map[string]any{
			"totalCalls": len(outcomes),
			"successful": succeeded,
			"failed":     failed,
			"tools":      names,
			"details":    details,
		},
	}
}
