package turnrunner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/sandboxagent/core/internal/llm"
)

const (
	retryBaseDelay   = 2 * time.Second
	retryMaxDelay    = 8 * time.Second
	retryMaxAttempts = 3

	// modelCallRateLimit paces retry attempts against a single model
	// endpoint so a hot retry loop cannot hammer it faster than this.
	modelCallRateLimit = 1 // requests per second
	modelCallRateBurst = 2
)

// modelCallLimiter is shared across all turns in this process; one runner
// serves one container's sandboxrun process, so a single limiter reflects
// the actual outbound call rate to the model endpoint.
var modelCallLimiter = rate.NewLimiter(rate.Limit(modelCallRateLimit), modelCallRateBurst)

var retryableTextPattern = regexp.MustCompile(`(?i)fetch failed|network|socket|timeout|timed out|ECONNRESET|ECONNREFUSED|EAI_AGAIN`)

// isRetryable classifies a model-call failure per §4.4.1.
func isRetryable(err error) bool {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if statusErr.StatusCode >= 500 && statusErr.StatusCode <= 504 {
			return true
		}
		return false
	}
	return retryableTextPattern.MatchString(err.Error())
}

// callModelWithRetry wraps client.Chat with the attempt/backoff/event
// sequence of §4.4.1: at most retryMaxAttempts tries, delay doubling from
// retryBaseDelay up to retryMaxDelay. The doubling/cap policy itself is
// cenkalti/backoff/v5's ExponentialBackOff; only the attempt bookkeeping and
// event logging stay local.
func callModelWithRetry(ctx context.Context, client *llm.Client, req llm.ChatRequest) (*llm.ChatResponse, error) {
	attempt := 0
	policy := &backoff.ExponentialBackOff{
		InitialInterval: retryBaseDelay,
		MaxInterval:     retryMaxDelay,
		Multiplier:      2,
	}

	operation := func() (*llm.ChatResponse, error) {
		attempt++
		if err := modelCallLimiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		slog.Info("turn.before_model_call", "attempt", attempt)
		resp, err := client.Chat(ctx, req)
		if err != nil {
			if !isRetryable(err) {
				slog.Warn("turn.model_error", "attempt", attempt, "err", err)
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		toolCalls := 0
		if len(resp.Choices) > 0 {
			toolCalls = len(resp.Choices[0].Message.ToolCalls)
		}
		slog.Info("turn.after_model_call", "attempt", attempt, "toolCalls", toolCalls)
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(retryMaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Warn("turn.model_retry", "attempt", attempt, "delay", delay, "err", err)
		}),
	)
	if err != nil {
		if attempt >= retryMaxAttempts {
			slog.Warn("turn.model_error", "attempt", attempt, "err", err)
		}
		return nil, err
	}
	return resp, nil
}

func decodeArgs(raw string, out *map[string]interface{}) error {
	if raw == "" {
		*out = map[string]interface{}{}
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
