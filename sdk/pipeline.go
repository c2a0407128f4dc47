package sdk

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/eifl-dev/eifl/internal/manifest"
)

// Pipeline accumulates a manifest definition. Create one with New, chain
// trigger and step declarations, and finalize with Build, JSON, or
// WriteFile. A Pipeline is not safe for concurrent use.
type Pipeline struct {
	name       string
	triggers   *manifest.Triggers
	runnerTags []string
	steps      []manifest.Step
}

// New starts a pipeline definition with the given name. The name
// identifies the pipeline within its repo; applying a manifest with an
// existing name updates that pipeline in place.
func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

// OnPush declares that pushes trigger the pipeline, optionally filtered
// by branch patterns ("*", "prefix*", "*suffix", or a literal branch
// name). No patterns means every branch.
func (p *Pipeline) OnPush(branches ...string) *Pipeline {
	t := p.ensureTriggers()
	t.Push = &manifest.PushTrigger{Branches: branches}
	return p
}

// AllowManual declares that runs may be started via the API and CLI.
func (p *Pipeline) AllowManual() *Pipeline {
	p.ensureTriggers().Manual = true
	return p
}

// Schedule adds a cron schedule, evaluated in UTC. May be called
// multiple times for multiple schedules.
func (p *Pipeline) Schedule(cron string) *Pipeline {
	t := p.ensureTriggers()
	t.Schedule = append(t.Schedule, manifest.ScheduleEntry{Cron: cron})
	return p
}

// RequireRunnerTags restricts execution to runners holding every listed
// tag.
func (p *Pipeline) RequireRunnerTags(tags ...string) *Pipeline {
	p.runnerTags = append(p.runnerTags, tags...)
	return p
}

// Step appends a shell step and returns its builder for optional
// settings. Call Done on the builder to continue the pipeline chain.
func (p *Pipeline) Step(name, run string) *StepBuilder {
	return &StepBuilder{
		pipeline: p,
		step:     manifest.Step{Name: name, Run: run},
	}
}

func (p *Pipeline) ensureTriggers() *manifest.Triggers {
	if p.triggers == nil {
		p.triggers = &manifest.Triggers{}
	}
	return p.triggers
}

// Build assembles and validates the manifest. The returned Config is a
// snapshot; further builder calls do not affect it.
func (p *Pipeline) Build() (*manifest.Config, error) {
	cfg := &manifest.Config{
		Name:       p.name,
		Triggers:   p.triggers,
		RunnerTags: append([]string(nil), p.runnerTags...),
		Steps:      append([]manifest.Step(nil), p.steps...),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JSON returns the validated manifest as indented JSON with a trailing
// newline, ready to write as a .eifl.json file.
func (p *Pipeline) JSON() ([]byte, error) {
	cfg, err := p.Build()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile validates the manifest and writes it to path.
func (p *Pipeline) WriteFile(path string) error {
	data, err := p.JSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// StepBuilder sets optional fields on one step.
type StepBuilder struct {
	pipeline *Pipeline
	step     manifest.Step
}

// If sets the step's condition. The grammar is `var == 'literal'` or
// `var != 'literal'` where var is trigger or branch; a false condition
// marks the step skipped.
func (b *StepBuilder) If(condition string) *StepBuilder {
	b.step.If = condition
	return b
}

// CaptureSizes adds glob patterns whose matching files are measured
// after the step and recorded as size metrics.
func (b *StepBuilder) CaptureSizes(patterns ...string) *StepBuilder {
	b.step.CaptureSizes = append(b.step.CaptureSizes, patterns...)
	return b
}

// Done appends the step and returns the pipeline for further chaining.
func (b *StepBuilder) Done() *Pipeline {
	b.pipeline.steps = append(b.pipeline.steps, b.step)
	return b.pipeline
}
