// Package orchestrator wires the container pool into the callers that
// need a fully isolated turn outside the main per-session conversation: the
// delegation manager's child-task dispatch (§4.7), the compactor's
// memory-flush/summarize passes (§4.8), and scheduled task fires.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/sandboxagent/core/internal/containerpool"
	"github.com/sandboxagent/core/internal/delegation"
	"github.com/sandboxagent/core/internal/llm"
	"github.com/sandboxagent/core/internal/mailbox"
	"github.com/sandboxagent/core/internal/model"
)

// PoolExecutor adapts a containerpool.Pool into both delegation.Executor
// and compaction.IsolatedTurn.
type PoolExecutor struct {
	Pool      *containerpool.Pool
	BaseURL   string
	APIKey    string
	ChatbotID string
}

// RunChildTurn implements delegation.Executor.
func (p *PoolExecutor) RunChildTurn(ctx context.Context, req delegation.ChildTurnRequest) (delegation.ChildTurnResult, error) {
	turnReq := mailbox.TurnRequest{
		SessionID:    req.SessionID,
		Messages:     []llm.Message{{Role: model.RoleUser, Content: req.Prompt}},
		ChatbotID:    p.ChatbotID,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		Model:        req.Model,
		AllowedTools: req.AllowedTools,
	}

	resp, err := p.Pool.RunTurn(ctx, turnReq, nil)
	if err != nil {
		return delegation.ChildTurnResult{}, fmt.Errorf("orchestrator: run child turn: %w", err)
	}
	if resp.Status == mailbox.StatusError {
		return delegation.ChildTurnResult{}, fmt.Errorf("orchestrator: child turn failed: %s", resp.Error)
	}

	result := ""
	if resp.Result != nil {
		result = *resp.Result
	}
	return delegation.ChildTurnResult{Result: result, ToolsUsed: resp.ToolsUsed}, nil
}

// RunIsolatedTurn implements compaction.IsolatedTurn.
func (p *PoolExecutor) RunIsolatedTurn(ctx context.Context, sessionID, systemPrompt, userPrompt string, allowedTools []string) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: model.RoleUser, Content: userPrompt})

	turnReq := mailbox.TurnRequest{
		SessionID:    sessionID,
		Messages:     messages,
		ChatbotID:    p.ChatbotID,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		AllowedTools: allowedTools,
	}

	resp, err := p.Pool.RunTurn(ctx, turnReq, nil)
	if err != nil {
		return "", fmt.Errorf("orchestrator: run isolated turn: %w", err)
	}
	if resp.Status == mailbox.StatusError {
		return "", fmt.Errorf("orchestrator: isolated turn failed: %s", resp.Error)
	}
	if resp.Result == nil {
		return "", nil
	}
	return *resp.Result, nil
}
