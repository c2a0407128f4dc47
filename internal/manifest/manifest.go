// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manifest parses and validates the in-repo pipeline manifest
// (.eifl.json) and evaluates its trigger and step conditions.
//
// The raw manifest is stored verbatim on the pipeline row and re-parsed on
// read, so the wire shape here is the forward-compatibility boundary:
// unknown fields are ignored, absent optional fields keep zero values.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// FileName is the manifest path at the repository root.
const FileName = ".eifl.json"

// Config is the parsed pipeline manifest.
type Config struct {
	// Name identifies the pipeline within its repo. Required.
	Name string `json:"name"`

	// Triggers declares what may start a run. A nil Triggers block means
	// the pipeline is fully permissive: every push triggers it and manual
	// runs are allowed.
	Triggers *Triggers `json:"triggers,omitempty"`

	// RunnerTags restricts which runners may execute runs of this
	// pipeline. A runner is eligible only if it holds every listed tag.
	RunnerTags []string `json:"runner_tags,omitempty"`

	// Steps are the shell commands executed in declared order. Required,
	// at least one.
	Steps []Step `json:"steps"`
}

// Triggers declares the trigger sources of a pipeline.
type Triggers struct {
	// Push enables push-triggered runs, optionally filtered by branch
	// patterns. Absent means pushes do not trigger this pipeline.
	Push *PushTrigger `json:"push,omitempty"`

	// Manual allows runs to be started via the API.
	Manual bool `json:"manual,omitempty"`

	// Schedule lists cron entries evaluated in UTC.
	Schedule []ScheduleEntry `json:"schedule,omitempty"`
}

// PushTrigger filters push-triggered runs by branch.
type PushTrigger struct {
	// Branches are the patterns a pushed branch must match. Empty or
	// absent matches every branch. Pattern syntax: "*" (all),
	// "prefix*", "*suffix", or literal equality.
	Branches []string `json:"branches,omitempty"`
}

// ScheduleEntry is one cron schedule.
type ScheduleEntry struct {
	// Cron is a five-field cron expression evaluated in UTC.
	Cron string `json:"cron"`
}

// Step is one shell command within a pipeline.
type Step struct {
	// Name labels the step in run views. Required.
	Name string `json:"name"`

	// Run is the shell command, executed via `sh -c`. Required.
	Run string `json:"run"`

	// CaptureSizes lists glob patterns whose matching files are measured
	// after the step and reported as size metrics.
	CaptureSizes []string `json:"capture_sizes,omitempty"`

	// If is an optional condition of the form `var == 'literal'` or
	// `var != 'literal'`. A false or unparseable condition marks the
	// step skipped.
	If string `json:"if,omitempty"`
}

// Parse decodes and validates a manifest. Malformed input is rejected with
// a ValidationError naming the offending field where the decoder can tell.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &eiflerrors.ValidationError{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("expected %s", typeErr.Type),
			}
		}
		return nil, &eiflerrors.ValidationError{Message: "manifest is not valid JSON"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the semantic constraints Parse enforces. It is exposed
// separately so callers holding an already-decoded Config (the SDK, the
// schema endpoint) can re-check it.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &eiflerrors.ValidationError{Field: "name", Message: "must be a non-empty string"}
	}
	if len(c.Steps) == 0 {
		return &eiflerrors.ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	for i, step := range c.Steps {
		if step.Name == "" {
			return &eiflerrors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].name", i),
				Message: "must be a non-empty string",
			}
		}
		if step.Run == "" {
			return &eiflerrors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].run", i),
				Message: "must be a non-empty string",
			}
		}
	}
	if c.Triggers != nil {
		for i, entry := range c.Triggers.Schedule {
			if entry.Cron == "" {
				return &eiflerrors.ValidationError{
					Field:   fmt.Sprintf("triggers.schedule[%d].cron", i),
					Message: "must be a non-empty string",
				}
			}
		}
	}
	return nil
}

// ShouldTriggerOnPush reports whether a push to branch starts a run.
// No triggers block at all means yes; a triggers block without push means
// no; a push block without branch patterns matches every branch.
func (c *Config) ShouldTriggerOnPush(branch string) bool {
	if c.Triggers == nil {
		return true
	}
	if c.Triggers.Push == nil {
		return false
	}
	if len(c.Triggers.Push.Branches) == 0 {
		return true
	}
	for _, pattern := range c.Triggers.Push.Branches {
		if MatchBranch(pattern, branch) {
			return true
		}
	}
	return false
}

// AllowsManual reports whether the pipeline may be triggered via the API.
// Mirrors the push semantics: an absent triggers block is permissive, a
// present one must opt in.
func (c *Config) AllowsManual() bool {
	if c.Triggers == nil {
		return true
	}
	return c.Triggers.Manual
}

// Schedules returns the cron expressions declared by the manifest.
func (c *Config) Schedules() []string {
	if c.Triggers == nil || len(c.Triggers.Schedule) == 0 {
		return nil
	}
	exprs := make([]string, 0, len(c.Triggers.Schedule))
	for _, entry := range c.Triggers.Schedule {
		exprs = append(exprs, entry.Cron)
	}
	return exprs
}

// MatchBranch reports whether branch matches pattern. Supported patterns
// are "*" (everything), "prefix*", "*suffix", and literal equality.
func MatchBranch(pattern, branch string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) > 1 && pattern[0] == '*':
		suffix := pattern[1:]
		return len(branch) >= len(suffix) && branch[len(branch)-len(suffix):] == suffix
	case len(pattern) > 1 && pattern[len(pattern)-1] == '*':
		prefix := pattern[:len(pattern)-1]
		return len(branch) >= len(prefix) && branch[:len(prefix)] == prefix
	default:
		return pattern == branch
	}
}
