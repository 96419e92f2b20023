package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sui-sandbox/replay/internal/classify"
	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/replay"
)

// CommandRunner executes a `command` step's normalized args (the workflow
// engine itself has no subprocess/CLI-dispatch concern; that lives in the
// CLI layer which supplies this callback). Returning a non-nil error marks
// the step failed.
type CommandRunner func(ctx context.Context, args []string) error

// StepResult is one executed step's outcome.
type StepResult struct {
	StepID    string
	StepName  string
	Kind      StepKind
	Succeeded bool
	Skipped   bool
	Err       string
	Replay    *replay.Result
}

// Report aggregates every step's outcome for one workflow run, per
// SPEC_FULL.md's "replay result reporting" supplemented feature.
type Report struct {
	WorkflowName string
	Steps        []StepResult
	Success      bool
	CountByCategory map[classify.Category]int
}

// Engine runs a parsed Spec's steps against a Replay Orchestrator.
type Engine struct {
	orch    *replay.Orchestrator
	runner  CommandRunner
	logger  *zap.Logger
}

// NewEngine builds an Engine. runner may be nil if the spec never contains
// `command` steps.
func NewEngine(orch *replay.Orchestrator, runner CommandRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{orch: orch, runner: runner, logger: logger}
}

// Run executes every step of spec in order. A step with ContinueOnError set
// that fails does not flip the overall Report.Success to false and
// processing continues to the next step; a step without it that fails does
// flip Success to false and halts remaining steps, per §8 scenario 6.
func (e *Engine) Run(ctx context.Context, spec *Spec) (*Report, error) {
	report := &Report{
		WorkflowName:    spec.Name,
		Success:         true,
		CountByCategory: map[classify.Category]int{},
	}

	for i, step := range spec.Steps {
		label := stepLabel(step, i+1)
		res, err := e.runStep(ctx, spec, step)
		if err != nil {
			return report, fmt.Errorf("workflow: %s: %w", label, err)
		}
		report.Steps = append(report.Steps, res)
		if res.Replay != nil {
			report.CountByCategory[res.Replay.Classification.Category]++
		}

		if !res.Succeeded {
			if step.ContinueOnError {
				e.logger.Warn("step failed, continuing", zap.String("step", label), zap.String("error", res.Err))
				continue
			}
			e.logger.Error("step failed, halting workflow", zap.String("step", label), zap.String("error", res.Err))
			report.Success = false
			break
		}
	}

	return report, nil
}

func (e *Engine) runStep(ctx context.Context, spec *Spec, step Step) (StepResult, error) {
	res := StepResult{StepID: step.ID, StepName: step.Name, Kind: step.Kind}

	switch step.Kind {
	case StepReplay:
		policy := buildReplayPolicy(spec.Defaults, step)
		result, err := e.orch.Replay(ctx, step.Digest, policy)
		if err != nil {
			res.Err = err.Error()
			return res, nil
		}
		res.Replay = result
		res.Succeeded = result.Classification.Success
		if !res.Succeeded {
			res.Err = string(result.Classification.Category)
		}
		return res, nil

	case StepAnalyzeReplay:
		hp := buildHydratePolicy(spec.Defaults, step)
		state, err := e.orch.Analyze(ctx, step.Digest, hp)
		if err != nil || state == nil {
			res.Err = errString(err)
			return res, nil
		}
		res.Succeeded = true
		return res, nil

	case StepCommand:
		if e.runner == nil {
			res.Err = "workflow: no command runner configured"
			return res, nil
		}
		args, err := NormalizeCommandArgs(step.Args)
		if err != nil {
			res.Err = err.Error()
			return res, nil
		}
		if err := e.runner(ctx, args); err != nil {
			res.Err = err.Error()
			return res, nil
		}
		res.Succeeded = true
		return res, nil

	default:
		res.Skipped = true
		res.Err = fmt.Sprintf("unknown step kind %q", step.Kind)
		return res, nil
	}
}

func buildHydratePolicy(defaults Defaults, step Step) hydrate.Policy {
	return hydrate.Policy{
		PrefetchDynamicFields: !boolOr(step.NoPrefetch, defaults.NoPrefetch, false),
		PrefetchDepth:         intOr(step.PrefetchDepth, defaults.PrefetchDepth, 2),
		PrefetchLimit:         intOr(step.PrefetchLimit, defaults.PrefetchLimit, 50),
		AutoSystemObjects:     boolOr(step.AutoSystemObjects, defaults.AutoSystemObjects, false),
		AllowFallback:         boolOr(step.AllowFallback, defaults.AllowFallback, false),
		Source:                sourceOr(step.Source, defaults.Source, hydrate.SourceHybrid),
	}
}

func buildReplayPolicy(defaults Defaults, step Step) replay.Policy {
	mode := replay.CompareNone
	if boolOr(step.Compare, defaults.Compare, false) {
		mode = replay.CompareSummary
		if boolOr(step.Strict, defaults.Strict, false) {
			mode = replay.CompareStrict
		}
	}
	return replay.Policy{
		Hydrate:   buildHydratePolicy(defaults, step),
		PatchMode: patch.ModeWarnAndSkip,
		Compare:   mode,
	}
}

func boolOr(step, def *bool, fallback bool) bool {
	if step != nil {
		return *step
	}
	if def != nil {
		return *def
	}
	return fallback
}

func intOr(step, def *int, fallback int) int {
	if step != nil {
		return *step
	}
	if def != nil {
		return *def
	}
	return fallback
}

func sourceOr(step, def *string, fallback hydrate.Source) hydrate.Source {
	if step != nil {
		return hydrate.Source(*step)
	}
	if def != nil {
		return hydrate.Source(*def)
	}
	return fallback
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
