package delegation

import (
	"fmt"
	"strings"
	"time"
)

// Report is the two-view completion payload of §4.7 "Completion report".
type Report struct {
	OverallStatus string // "completed" | "partial" | "failed"
	Completed     int
	Total         int
	Duration      time.Duration
	UserFacing    string
	ModelFacing   string
}

const abbreviateLimit = 500

func buildReport(plan Plan, outcomes []taskOutcome, elapsed time.Duration) Report {
	completed := 0
	for _, o := range outcomes {
		if o.status == "completed" {
			completed++
		}
	}
	total := len(outcomes)

	overall := "failed"
	switch {
	case completed == total && total > 0:
		overall = "completed"
	case completed > 0:
		overall = "partial"
	}

	label := plan.Label
	if label == "" {
		label = plan.Mode
	}

	var user strings.Builder
	fmt.Fprintf(&user, "[Delegate %s] %s (%d/%d completed, %s).", label, overall, completed, total, elapsed.Round(time.Millisecond))
	for i, o := range outcomes {
		title := o.task.Label
		if title == "" {
			title = fmt.Sprintf("task %d", i+1)
		}
		body := o.result
		if o.status != "completed" {
			body = o.status
			if o.err != nil {
				body = fmt.Sprintf("%s: %s", o.status, o.err.Error())
			}
		}
		fmt.Fprintf(&user, " - %s: %s", title, abbreviate(body, abbreviateLimit))
	}

	var model strings.Builder
	fmt.Fprintf(&model, "Delegation %s (%s): %d/%d completed in %s\n", label, plan.Mode, completed, total, elapsed.Round(time.Millisecond))
	for i, o := range outcomes {
		title := o.task.Label
		if title == "" {
			title = fmt.Sprintf("task %d", i+1)
		}
		fmt.Fprintf(&model, "\n## %s\nstatus: %s\nsession_id: %s\nmodel: %s\nduration_ms: %d\nattempts: %d\ntools_used: %s\n",
			title, o.status, o.sessionID, o.model, o.durationMs, o.attempts, strings.Join(o.toolsUsed, ", "))
		if o.status == "completed" {
			fmt.Fprintf(&model, "%s\n", o.result)
		} else if o.err != nil {
			fmt.Fprintf(&model, "error: %s\n", o.err.Error())
		}
	}

	return Report{
		OverallStatus: overall,
		Completed:     completed,
		Total:         total,
		Duration:      elapsed,
		UserFacing:    user.String(),
		ModelFacing:   model.String(),
	}
}

func abbreviate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
