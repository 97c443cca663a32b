package delegation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/mailbox"
)

func TestNormalizeInfersChain(t *testing.T) {
	plan, err := Normalize(mailbox.DelegationPayload{Chain: []mailbox.DelegationTaskSpec{{Prompt: "a"}, {Prompt: "b"}}})
	require.NoError(t, err)
	require.Equal(t, ModeChain, plan.Mode)
	require.Len(t, plan.Tasks, 2)
}

func TestNormalizeInfersParallel(t *testing.T) {
	plan, err := Normalize(mailbox.DelegationPayload{Tasks: []mailbox.DelegationTaskSpec{{Prompt: "a"}}})
	require.NoError(t, err)
	require.Equal(t, ModeParallel, plan.Mode)
}

func TestNormalizeRejectsTooManyTasks(t *testing.T) {
	tasks := make([]mailbox.DelegationTaskSpec, MaxTasksPerPlan+1)
	for i := range tasks {
		tasks[i] = mailbox.DelegationTaskSpec{Prompt: "x"}
	}
	_, err := Normalize(mailbox.DelegationPayload{Tasks: tasks})
	require.Error(t, err)
}

func TestNormalizeRejectsMissingPrompt(t *testing.T) {
	_, err := Normalize(mailbox.DelegationPayload{Tasks: []mailbox.DelegationTaskSpec{{Prompt: ""}}})
	require.Error(t, err)
}

func TestNormalizeSingleRequiresPrompt(t *testing.T) {
	_, err := Normalize(mailbox.DelegationPayload{})
	require.Error(t, err)
}

func TestDepth(t *testing.T) {
	require.Equal(t, 0, Depth("default"))
	require.Equal(t, 2, Depth("delegate:d2:parent:123:abcd"))
}

func TestChildSessionIDClipsParent(t *testing.T) {
	longParent := ""
	for i := 0; i < 80; i++ {
		longParent += "x"
	}
	id := ChildSessionID(longParent, 1, time.Unix(0, 0))
	require.Contains(t, id, "delegate:d1:")
	require.LessOrEqual(t, len(id), len("delegate:d1:")+48+1+13+1+8+5)
}

type fakeExecutor struct {
	results map[string]ChildTurnResult
	errs    map[string]error
	calls   int
}

func (f *fakeExecutor) RunChildTurn(_ context.Context, req ChildTurnRequest) (ChildTurnResult, error) {
	f.calls++
	if err, ok := f.errs[req.Prompt]; ok {
		return ChildTurnResult{}, err
	}
	return f.results[req.Prompt], nil
}

func TestRunParallelAllSucceed(t *testing.T) {
	exec := &fakeExecutor{results: map[string]ChildTurnResult{
		"a": {Result: "ra"},
		"b": {Result: "rb"},
	}}
	m := New(exec, DefaultMaxDepth, DefaultMaxPerTurn)
	plan := Plan{Mode: ModeParallel, Tasks: []Task{{Prompt: "a", Label: "A"}, {Prompt: "b", Label: "B"}}}

	report := m.Run(context.Background(), "parent", plan)
	require.Equal(t, "completed", report.OverallStatus)
	require.Equal(t, 2, report.Completed)
	require.Contains(t, report.UserFacing, "[Delegate parallel]")
}

func TestRunChainSubstitutesPrevious(t *testing.T) {
	exec := &fakeExecutor{results: map[string]ChildTurnResult{
		"a":            {Result: "first-output"},
		"then first-output": {Result: "second-output"},
	}}
	m := New(exec, DefaultMaxDepth, DefaultMaxPerTurn)
	plan := Plan{Mode: ModeChain, Tasks: []Task{{Prompt: "a"}, {Prompt: "then {previous}"}}}

	report := m.Run(context.Background(), "parent", plan)
	require.Equal(t, "completed", report.OverallStatus)
	require.Equal(t, 2, exec.calls)
}

func TestRunChainAbortsOnFirstFailure(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{"a": errors.New("forbidden: no access")}}
	m := New(exec, DefaultMaxDepth, DefaultMaxPerTurn)
	plan := Plan{Mode: ModeChain, Tasks: []Task{{Prompt: "a"}, {Prompt: "b"}}}

	report := m.Run(context.Background(), "parent", plan)
	require.Equal(t, "failed", report.OverallStatus)
	require.Equal(t, 1, exec.calls)
}

func TestClassifyErrorPermanentSkipsRetry(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{"a": errors.New("unauthorized")}}
	m := New(exec, DefaultMaxDepth, DefaultMaxPerTurn)
	start := time.Now()
	m.runOne(context.Background(), "parent", 1, Task{Prompt: "a"})
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, exec.calls)
}

func TestAcceptRejectsOverDepth(t *testing.T) {
	m := New(&fakeExecutor{}, 1, DefaultMaxPerTurn)
	err := m.Accept("delegate:d1:parent:1:abcd", Plan{Tasks: []Task{{Prompt: "a"}}}, 0)
	require.Error(t, err)
}

func TestAcceptRejectsOverPerTurn(t *testing.T) {
	m := New(&fakeExecutor{}, DefaultMaxDepth, 2)
	err := m.Accept("parent", Plan{Tasks: []Task{{Prompt: "a"}, {Prompt: "b"}}}, 1)
	require.Error(t, err)
}
