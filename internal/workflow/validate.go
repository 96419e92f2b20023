package workflow

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every issue found, numbered the way the
// original Rust validator formats its bail! message.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = fmt.Sprintf("  %d. %s", i+1, issue)
	}
	return "workflow spec validation failed:\n" + strings.Join(lines, "\n")
}

// Validate checks version, name non-emptiness (description is optional),
// step id uniqueness, positive-only boolean fields, and per-kind required field
// combinations, per spec §6's validation rules.
func (s *Spec) Validate() error {
	var issues []string

	if s.Version != SupportedVersion {
		issues = append(issues, fmt.Sprintf("version %d is not supported (expected %d)", s.Version, SupportedVersion))
	}
	if strings.TrimSpace(s.Name) == "" {
		issues = append(issues, "name cannot be empty")
	}
	if len(s.Steps) == 0 {
		issues = append(issues, "steps must contain at least one entry")
	}

	issues = append(issues, validateTrueOnly("defaults.compare", s.Defaults.Compare)...)
	issues = append(issues, validateTrueOnly("defaults.strict", s.Defaults.Strict)...)
	issues = append(issues, validateTrueOnly("defaults.auto_system_objects", s.Defaults.AutoSystemObjects)...)
	issues = append(issues, validateTrueOnly("defaults.no_prefetch", s.Defaults.NoPrefetch)...)
	issues = append(issues, validateTrueOnly("defaults.allow_fallback", s.Defaults.AllowFallback)...)
	issues = append(issues, validateTrueOnly("defaults.mm2", s.Defaults.MM2)...)

	seenIDs := map[string]bool{}
	for i, step := range s.Steps {
		label := stepLabel(step, i+1)

		if step.ID != "" && strings.TrimSpace(step.ID) == "" {
			issues = append(issues, fmt.Sprintf("step %d has an empty `id`", i+1))
		}
		if step.ID != "" {
			if seenIDs[step.ID] {
				issues = append(issues, fmt.Sprintf("duplicate step id `%s`", step.ID))
			}
			seenIDs[step.ID] = true
		}

		switch step.Kind {
		case StepReplay:
			issues = append(issues, validateReplayStep(label, step)...)
		case StepAnalyzeReplay:
			issues = append(issues, validateAnalyzeStep(label, step)...)
		case StepCommand:
			issues = append(issues, validateCommandStep(label, step)...)
		default:
			issues = append(issues, fmt.Sprintf("%s: unknown step kind `%s`", label, step.Kind))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validateReplayStep(label string, step Step) []string {
	var issues []string
	hasDigest := strings.TrimSpace(step.Digest) != ""
	if !hasDigest && step.Checkpoint == nil && step.Latest == nil && step.StateJSON == "" {
		issues = append(issues, fmt.Sprintf("%s: replay step must set at least one of `digest`, `checkpoint`, `latest`, or `state_json`", label))
	}
	if step.Latest != nil && *step.Latest == 0 {
		issues = append(issues, fmt.Sprintf("%s: replay `latest` must be >= 1", label))
	}
	if step.Latest != nil && step.Checkpoint != nil {
		issues = append(issues, fmt.Sprintf("%s: replay cannot set both `latest` and `checkpoint`", label))
	}
	if step.StateJSON != "" && step.Latest != nil {
		issues = append(issues, fmt.Sprintf("%s: replay cannot set both `state_json` and `latest`", label))
	}
	if step.StateJSON != "" && step.Checkpoint != nil {
		issues = append(issues, fmt.Sprintf("%s: replay cannot set both `state_json` and `checkpoint`", label))
	}
	issues = append(issues, validateTrueOnly(label+".compare", step.Compare)...)
	issues = append(issues, validateTrueOnly(label+".strict", step.Strict)...)
	issues = append(issues, validateTrueOnly(label+".no_prefetch", step.NoPrefetch)...)
	issues = append(issues, validateTrueOnly(label+".auto_system_objects", step.AutoSystemObjects)...)
	issues = append(issues, validateTrueOnly(label+".allow_fallback", step.AllowFallback)...)
	return issues
}

func validateAnalyzeStep(label string, step Step) []string {
	var issues []string
	if strings.TrimSpace(step.Digest) == "" {
		issues = append(issues, fmt.Sprintf("%s: analyze_replay `digest` cannot be empty", label))
	}
	if step.Checkpoint != nil && *step.Checkpoint == 0 {
		issues = append(issues, fmt.Sprintf("%s: analyze_replay `checkpoint` must be >= 1", label))
	}
	issues = append(issues, validateTrueOnly(label+".mm2", step.MM2)...)
	issues = append(issues, validateTrueOnly(label+".no_prefetch", step.NoPrefetch)...)
	return issues
}

func validateCommandStep(label string, step Step) []string {
	var issues []string
	if len(step.Args) == 0 {
		issues = append(issues, fmt.Sprintf("%s: command step requires non-empty `args`", label))
		return issues
	}
	if _, err := NormalizeCommandArgs(step.Args); err != nil {
		issues = append(issues, fmt.Sprintf("%s: %s", label, err.Error()))
	}
	return issues
}

// NormalizeCommandArgs strips a leading "sui-sandbox" program name and
// rejects recursive `workflow` invocation, per the original's
// normalize_command_args.
func NormalizeCommandArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command step args cannot be empty")
	}
	normalized := append([]string(nil), args...)
	if normalized[0] == "sui-sandbox" {
		normalized = normalized[1:]
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("command step args became empty after removing leading `sui-sandbox`")
	}
	if normalized[0] == "workflow" {
		return nil, fmt.Errorf("workflow command recursion is not allowed in command steps")
	}
	return normalized, nil
}

func validateTrueOnly(field string, value *bool) []string {
	if value != nil && !*value {
		return []string{fmt.Sprintf("%s only supports `true` (omit the field for default false)", field)}
	}
	return nil
}

func stepLabel(step Step, index int) string {
	if step.ID != "" {
		return fmt.Sprintf("step %d (`%s`)", index, step.ID)
	}
	if step.Name != "" {
		return fmt.Sprintf("step %d (`%s`)", index, step.Name)
	}
	return fmt.Sprintf("step %d", index)
}
