// Package classify implements the Failure Classifier (C8): a pure function
// mapping a replay's raw outcome plus diagnostics to a closed category
// taxonomy with retry hints. Grounded directly on spec §4.8's rule table; no
// third-party dependency applies here (see DESIGN.md) — adding one would be
// decoration, not a gap-filler.
package classify

import (
	"strings"

	"github.com/sui-sandbox/replay/internal/address"
)

// Category is the closed failure taxonomy.
type Category string

const (
	CategorySuccess             Category = "success"
	CategoryComparisonMismatch  Category = "comparison_mismatch"
	CategoryMissingInputObjects Category = "missing_input_objects"
	CategoryMissingPackages     Category = "missing_packages"
	CategoryArchiveDataGap      Category = "archive_data_gap"
	CategoryAuthOrEndpoint      Category = "auth_or_endpoint"
	CategoryGasFailure          Category = "gas_failure"
	CategoryMoveAbort           Category = "move_abort"
	CategoryInputShapeError     Category = "input_shape_error"
	CategoryExecutionError      Category = "execution_error"
)

// ComparisonDiff carries the per-field mismatch between local and on-chain
// effects, when a comparison was requested and ran.
type ComparisonDiff struct {
	StatusMismatch bool
	CreatedDiff    []address.Address
	MutatedDiff    []address.Address
	DeletedDiff    []address.Address
}

func (d *ComparisonDiff) any() bool {
	return d != nil && (d.StatusMismatch || len(d.CreatedDiff) > 0 || len(d.MutatedDiff) > 0 || len(d.DeletedDiff) > 0)
}

// RawOutcome is the orchestrator's raw execution result, fed into Classify.
type RawOutcome struct {
	// Success is the local VM execution's own success/failure, independent
	// of comparison to on-chain effects.
	Success bool
	// Comparison is nil when no comparison was requested (mode "none").
	Comparison *ComparisonDiff

	ErrorMessage string

	MissingInputObjects []address.Address
	MissingPackages     []address.Address

	FailedCommandIndex       *int
	FailedCommandDescription string
}

// Classification is the structured, user-visible outcome.
type Classification struct {
	Success                  bool
	Category                 Category
	Retryable                bool
	LocalError               string
	MissingInputObjects      []address.Address
	MissingPackages          []address.Address
	Suggestions              []string
	FailedCommandIndex       *int
	FailedCommandDescription string
}

var suggestionsByCategory = map[Category][]string{
	CategorySuccess:             nil,
	CategoryComparisonMismatch:  {"Local replay succeeded but on-chain comparison mismatched; inspect the created/mutated/deleted diff."},
	CategoryMissingInputObjects: {"Replay is missing input objects; retry with a stronger source or allow_fallback."},
	CategoryMissingPackages:     {"Replay is missing dependency packages; retry with a stronger source or allow_fallback."},
	CategoryArchiveDataGap:      {"The configured source lacks this historical data; switch to a stronger archive source."},
	CategoryAuthOrEndpoint:      {"The transport rejected the request; check the configured API key and endpoint."},
	CategoryGasFailure:          {"Execution ran out of gas; this is a faithful replay of a budget-exhausted transaction, not a retry candidate."},
	CategoryMoveAbort:           {"Execution aborted inside Move code; inspect the abort code, module, and function."},
	CategoryInputShapeError:     {"An input or type argument did not match the expected shape; inspect command arguments and type tags."},
	CategoryExecutionError:      {"Execution failed for an unclassified reason; inspect the raw error message."},
}

// Classify is a pure function of its input: the same RawOutcome always
// yields a bit-identical Classification.
func Classify(raw RawOutcome) Classification {
	c := Classification{
		MissingInputObjects:      raw.MissingInputObjects,
		MissingPackages:          raw.MissingPackages,
		FailedCommandIndex:       raw.FailedCommandIndex,
		FailedCommandDescription: raw.FailedCommandDescription,
		LocalError:               raw.ErrorMessage,
	}

	if raw.Success {
		if raw.Comparison.any() {
			c.Success = true
			c.Category = CategoryComparisonMismatch
			c.Retryable = false
		} else {
			c.Success = true
			c.Category = CategorySuccess
			c.Retryable = false
		}
		c.Suggestions = suggestionsByCategory[c.Category]
		return c
	}

	c.Success = false

	switch {
	case len(raw.MissingInputObjects) > 0:
		c.Category = CategoryMissingInputObjects
		c.Retryable = true
	case len(raw.MissingPackages) > 0:
		c.Category = CategoryMissingPackages
		c.Retryable = true
	default:
		c.Category, c.Retryable = classifyByMessage(raw.ErrorMessage)
	}

	c.Suggestions = suggestionsByCategory[c.Category]
	return c
}

// classifyByMessage applies the spec's closed keyword rule table, in order,
// case-insensitively. The supplemented archive-runtime-gap hint folds
// `pruned|retention|gap` into the same category and remediation as
// `archive|historical|not found`, since both indicate the same fix: switch
// to a stronger archive source.
func classifyByMessage(msg string) (Category, bool) {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "archive", "historical", "not found", "pruned", "retention", "gap"):
		return CategoryArchiveDataGap, true
	case containsAny(lower, "api key", "unauthorized", "forbidden"):
		return CategoryAuthOrEndpoint, true
	case strings.Contains(lower, "outofgas") || (strings.Contains(lower, "gas") && strings.Contains(lower, "budget")):
		return CategoryGasFailure, false
	case strings.Contains(lower, "abort"):
		return CategoryMoveAbort, false
	case containsAny(lower, "type", "argument", "deserialize"):
		return CategoryInputShapeError, false
	default:
		return CategoryExecutionError, false
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
