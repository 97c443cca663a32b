// Package turnrunner implements the sandbox turn runner (§4.4): the bounded
// Think→Act→Observe loop that executes inside the container process,
// driven by requests arriving over the mailbox.
package turnrunner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandboxagent/core/internal/llm"
	"github.com/sandboxagent/core/internal/mailbox"
	"github.com/sandboxagent/core/internal/tools"
)

// MaxIterations bounds the tool-calling loop (§4.4).
const MaxIterations = 20

// tracer emits spans around model calls and tool executions. When the host
// has not configured a TracerProvider (the common case outside of a traced
// deployment) otel's default no-op provider makes every call here free.
var tracer = otel.Tracer("sandboxagent/turnrunner")

// fatalFSPattern aborts the turn outright — retrying a read-only
// filesystem error is never productive (§5 Cancellation, §7).
var fatalFSPattern = regexp.MustCompile(`(?i)EROFS|EPERM|EACCES|read-only file system`)

// Runner holds the process-lifetime state of one container (§4.4).
type Runner struct {
	Client   *llm.Client
	Registry *tools.Registry
	Hooks    *tools.HookChain

	storedAPIKey     string
	currentSessionID string
	injectedTasks    []mailbox.TaskSummary
	cronTool         *tools.CronTool
}

func New(registry *tools.Registry, hooks *tools.HookChain) *Runner {
	return &Runner{Registry: registry, Hooks: hooks}
}

// SetCronTool wires the per-turn cron intent tool so its pending mutations
// can be drained into the reply's sideEffects.
func (r *Runner) SetCronTool(t *tools.CronTool) { r.cronTool = t }

// RunTurn executes the bounded loop of §4.4 against req and returns the
// reply destined for output.json.
func (r *Runner) RunTurn(ctx context.Context, req mailbox.TurnRequest) *mailbox.TurnResponse {
	if req.APIKey != "" {
		r.storedAPIKey = req.APIKey
	}
	r.currentSessionID = req.SessionID
	r.injectedTasks = req.ScheduledTasks

	client := r.Client
	if client == nil {
		client = llm.NewClient(req.BaseURL, r.storedAPIKey)
	} else {
		client.APIKey = r.storedAPIKey
		client.BaseURL = req.BaseURL
	}

	slog.Info("turn.before_agent_start", "sessionId", req.SessionID)

	history := append([]llm.Message(nil), req.Messages...)
	defs := r.Registry.Definitions(req.AllowedTools)

	var toolExecutions []mailbox.ToolExecution
	toolsUsedSet := map[string]bool{}

	for iter := 1; iter <= MaxIterations; iter++ {
		resp, err := r.callModelTraced(ctx, client, llm.ChatRequest{
			Model:      req.Model,
			ChatbotID:  req.ChatbotID,
			Messages:   history,
			Tools:      defs,
			ToolChoice: "auto",
			EnableRAG:  req.EnableRAG,
		})
		if err != nil {
			return r.finish(errorResponse(err.Error()), toolExecutions, toolsUsedSet)
		}
		if len(resp.Choices) == 0 {
			return r.finish(errorResponse("No response from API"), toolExecutions, toolsUsedSet)
		}

		choice := resp.Choices[0].Message
		history = append(history, choice)

		if len(choice.ToolCalls) == 0 {
			return r.finish(successResponse(choice.Content, toolsUsedSet, toolExecutions), toolExecutions, toolsUsedSet)
		}

		for _, call := range choice.ToolCalls {
			exec, historyMsg, fatal := r.runToolCall(ctx, call)
			toolExecutions = append(toolExecutions, exec)
			toolsUsedSet[call.Name] = true
			history = append(history, historyMsg)
			if fatal {
				return r.finish(errorResponse(exec.Result), toolExecutions, toolsUsedSet)
			}
		}
	}

	return r.finish(successResponse("Max tool iterations reached.", toolsUsedSet, toolExecutions), toolExecutions, toolsUsedSet)
}

// callModelTraced wraps callModelWithRetry with a span attached to the
// before_model_call/after_model_call pair (§4.4.1), so a configured tracer
// sees model latency and tool-call counts alongside the audit log.
func (r *Runner) callModelTraced(ctx context.Context, client *llm.Client, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "turn.model_call", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.String("chatbotId", req.ChatbotID),
	))
	defer span.End()

	resp, err := callModelWithRetry(ctx, client, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(resp.Choices) > 0 {
		span.SetAttributes(attribute.Int("toolCalls", len(resp.Choices[0].Message.ToolCalls)))
	}
	return resp, nil
}

func (r *Runner) runToolCall(ctx context.Context, call llm.ToolCall) (mailbox.ToolExecution, llm.Message, bool) {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(attribute.String("tool", call.Name)))
	defer span.End()

	start := time.Now()
	var args map[string]interface{}
	_ = decodeArgs(call.Arguments, &args)

	exec := mailbox.ToolExecution{Name: call.Name, Arguments: call.Arguments}

	if reason := r.Hooks.Run(ctx, call.Name, args); reason != "" {
		exec.Blocked = true
		exec.BlockedReason = reason
		exec.Result = fmt.Sprintf("Tool blocked by security hook: %s", reason)
		exec.IsError = true
		exec.DurationMs = time.Since(start).Milliseconds()
		span.SetAttributes(attribute.Bool("blocked", true))
		return exec, llm.Message{Role: "tool", Content: exec.Result, ToolCallID: call.ID}, false
	}

	tool, ok := r.Registry.Get(call.Name)
	if !ok {
		exec.Result = fmt.Sprintf("unknown tool %q", call.Name)
		exec.IsError = true
		exec.DurationMs = time.Since(start).Milliseconds()
		span.SetStatus(codes.Error, exec.Result)
		return exec, llm.Message{Role: "tool", Content: exec.Result, ToolCallID: call.ID}, false
	}

	result := tool.Execute(ctx, args)
	exec.Result = result.ForLLM
	exec.IsError = result.IsError
	exec.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Bool("isError", result.IsError), attribute.Int64("durationMs", exec.DurationMs))
	if result.IsError {
		span.SetStatus(codes.Error, result.ForLLM)
	}

	fatal := fatalFSPattern.MatchString(result.ForLLM)
	return exec, llm.Message{Role: "tool", Content: result.ForLLM, ToolCallID: call.ID}, fatal
}

func (r *Runner) finish(resp *mailbox.TurnResponse, execs []mailbox.ToolExecution, toolsUsed map[string]bool) *mailbox.TurnResponse {
	resp.ToolExecutions = execs
	resp.ToolsUsed = setToSlice(toolsUsed)
	if r.cronTool != nil {
		if pending := r.cronTool.PendingSchedules(); len(pending) > 0 {
			if resp.SideEffects == nil {
				resp.SideEffects = &mailbox.SideEffects{}
			}
			resp.SideEffects.Schedules = pending
		}
	}
	slog.Info("turn.turn_end", "sessionId", r.currentSessionID, "status", resp.Status)
	return resp
}

func successResponse(content string, toolsUsed map[string]bool, execs []mailbox.ToolExecution) *mailbox.TurnResponse {
	result := content
	return &mailbox.TurnResponse{Status: mailbox.StatusSuccess, Result: &result}
}

func errorResponse(message string) *mailbox.TurnResponse {
	return &mailbox.TurnResponse{Status: mailbox.StatusError, Error: message}
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
