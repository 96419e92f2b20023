package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sui-sandbox/replay/internal/classify"
)

// DigestsByCategory groups every replay step's digest by its classification
// category, in the report's deterministic (insertion) step order.
func (r *Report) DigestsByCategory() map[classify.Category][]string {
	out := map[classify.Category][]string{}
	for _, step := range r.Steps {
		if step.Replay == nil {
			continue
		}
		cat := step.Replay.Classification.Category
		out[cat] = append(out[cat], step.Replay.Digest)
	}
	return out
}

// Summary renders a human-readable digest: a header line, one count line per
// category, then one line per step,
// grounded on the orchestrator's own zap-structured logging style but
// plain-text here since a workflow report is meant for terminal/CI output
// rather than structured log ingestion.
func (r *Report) Summary() string {
	var b strings.Builder
	status := "SUCCEEDED"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "workflow %q: %s (%d steps)\n", r.WorkflowName, status, len(r.Steps))

	categories := make([]string, 0, len(r.CountByCategory))
	for cat := range r.CountByCategory {
		categories = append(categories, string(cat))
	}
	sort.Strings(categories)
	for _, cat := range categories {
		fmt.Fprintf(&b, "  %s: %d\n", cat, r.CountByCategory[classify.Category(cat)])
	}

	for i, step := range r.Steps {
		outcome := "ok"
		if step.Skipped {
			outcome = "skipped"
		} else if !step.Succeeded {
			outcome = "failed: " + step.Err
		}
		name := step.StepID
		if name == "" {
			name = step.StepName
		}
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		fmt.Fprintf(&b, "  step %s [%s]: %s\n", name, step.Kind, outcome)
	}

	return b.String()
}
