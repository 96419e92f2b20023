// Package workflow implements the Workflow Engine (C9): it parses and
// validates a declarative workflow spec (§6) and executes its steps in
// order, aggregating a report. Grounded on the original Rust workflow.rs's
// WorkflowSpec/WorkflowStep shape and validation rules, ported to Go's
// yaml.v3 + encoding/json dual-format idiom (the spec explicitly allows
// either).
package workflow

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only workflow spec version this engine accepts.
const SupportedVersion = 1

// StepKind enumerates the three step shapes the grammar supports.
type StepKind string

const (
	StepReplay        StepKind = "replay"
	StepAnalyzeReplay StepKind = "analyze_replay"
	StepCommand       StepKind = "command"
)

// Defaults carries step-level fields a workflow author can set once instead
// of repeating per step. Every boolean here is positive-only: `false` is
// rejected by Validate (omit the field for the default instead).
type Defaults struct {
	Source            *string `yaml:"source,omitempty" json:"source,omitempty"`
	AllowFallback     *bool   `yaml:"allow_fallback,omitempty" json:"allow_fallback,omitempty"`
	AutoSystemObjects *bool   `yaml:"auto_system_objects,omitempty" json:"auto_system_objects,omitempty"`
	NoPrefetch        *bool   `yaml:"no_prefetch,omitempty" json:"no_prefetch,omitempty"`
	PrefetchDepth     *int    `yaml:"prefetch_depth,omitempty" json:"prefetch_depth,omitempty"`
	PrefetchLimit     *int    `yaml:"prefetch_limit,omitempty" json:"prefetch_limit,omitempty"`
	Compare           *bool   `yaml:"compare,omitempty" json:"compare,omitempty"`
	Strict            *bool   `yaml:"strict,omitempty" json:"strict,omitempty"`
	// MM2 is parsed and validated (true-only, like every other flag here)
	// for compatibility with workflow specs that carry it, but the engine
	// does not act on it: the original's bytecode-driven dynamic-field
	// prediction it gates has no disassembler in this port (see
	// SPEC_FULL.md §12). A no-op-in-effect field, not a no-op-in-silence one.
	MM2 *bool `yaml:"mm2,omitempty" json:"mm2,omitempty"`
}

// Step is one workflow step. Fields not applicable to Kind are left zero;
// Validate enforces which combinations are legal.
type Step struct {
	ID              string   `yaml:"id,omitempty" json:"id,omitempty"`
	Name            string   `yaml:"name,omitempty" json:"name,omitempty"`
	ContinueOnError bool     `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	Kind            StepKind `yaml:"kind" json:"kind"`

	// replay / analyze_replay fields.
	Digest            string  `yaml:"digest,omitempty" json:"digest,omitempty"`
	Checkpoint        *uint64 `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	Latest            *uint64 `yaml:"latest,omitempty" json:"latest,omitempty"`
	StateJSON         string  `yaml:"state_json,omitempty" json:"state_json,omitempty"`
	Source            *string `yaml:"source,omitempty" json:"source,omitempty"`
	AllowFallback     *bool   `yaml:"allow_fallback,omitempty" json:"allow_fallback,omitempty"`
	AutoSystemObjects *bool   `yaml:"auto_system_objects,omitempty" json:"auto_system_objects,omitempty"`
	NoPrefetch        *bool   `yaml:"no_prefetch,omitempty" json:"no_prefetch,omitempty"`
	PrefetchDepth     *int    `yaml:"prefetch_depth,omitempty" json:"prefetch_depth,omitempty"`
	PrefetchLimit     *int    `yaml:"prefetch_limit,omitempty" json:"prefetch_limit,omitempty"`
	Compare           *bool   `yaml:"compare,omitempty" json:"compare,omitempty"`
	Strict            *bool   `yaml:"strict,omitempty" json:"strict,omitempty"`
	MM2               *bool   `yaml:"mm2,omitempty" json:"mm2,omitempty"`

	// command fields.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Spec is the top-level workflow document (§6).
type Spec struct {
	Version     int      `yaml:"version" json:"version"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Defaults    Defaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps"`
}

// Parse decodes raw as YAML or JSON depending on ext ("yaml", "yml", or
// anything else treated as JSON, mirroring load_from_path's extension
// sniff), then validates the result.
func Parse(raw []byte, ext string) (*Spec, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var spec Spec
	var err error
	if ext == "yaml" || ext == "yml" {
		err = yaml.Unmarshal(raw, &spec)
	} else {
		err = json.Unmarshal(raw, &spec)
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: parse spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ParseFile is a convenience wrapper over Parse using the path's extension.
func ParseFile(path string, raw []byte) (*Spec, error) {
	return Parse(raw, filepath.Ext(path))
}

// Serialize round-trips spec back to bytes in the requested format, used by
// the round-trip law in §8 (`parse . serialize = identity`).
func Serialize(spec *Spec, ext string) ([]byte, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "yaml" || ext == "yml" {
		return yaml.Marshal(spec)
	}
	return json.MarshalIndent(spec, "", "  ")
}
