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

// Package timeline provides ASCII timeline rendering for run execution visualization.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

const (
	// MinTerminalWidth is the minimum supported terminal width
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars
	DefaultBarWidth = 40
	// StatusIconOK indicates successful completion
	StatusIconOK = "✓"
	// StatusIconError indicates failure
	StatusIconError = "✗"
	// StatusIconSkipped indicates a step whose condition evaluated false
	StatusIconSkipped = "»"
	// StatusIconPending indicates a step that has not started
	StatusIconPending = "·"
)

// Renderer renders ASCII timelines from run steps.
type Renderer struct {
	Width    int
	BarWidth int

	// now is injectable for tests rendering in-flight runs.
	now func() time.Time
}

// NewRenderer creates a new timeline renderer with terminal width detection.
func NewRenderer() (*Renderer, error) {
	width, _, err := term.GetSize(0)
	if err != nil {
		// Default to 100 if detection fails
		width = 100
	}

	if width < MinTerminalWidth {
		return nil, fmt.Errorf("terminal width %d is too narrow (minimum %d columns)", width, MinTerminalWidth)
	}

	// Reserve space for labels, duration, status, and borders
	// Format: "│ step_name ██████░░░░  duration  status │"
	// Breakdown: 2 (border) + 20 (name) + barWidth + 10 (duration) + 4 (status) = ~76 min
	barWidth := width - 50
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < DefaultBarWidth {
		barWidth = DefaultBarWidth
	}

	return &Renderer{
		Width:    width,
		BarWidth: barWidth,
		now:      time.Now,
	}, nil
}

// Render generates an ASCII timeline for a run's steps. Steps are drawn in
// sequence order; a step that never started renders an empty bar.
func (r *Renderer) Render(run *backend.Run, steps []*backend.Step) (string, error) {
	if len(steps) == 0 {
		return "", fmt.Errorf("no steps to render")
	}
	if r.now == nil {
		r.now = time.Now
	}

	minTime, maxTime := r.calculateBounds(run, steps)
	totalDuration := maxTime.Sub(minTime)
	if totalDuration <= 0 {
		totalDuration = time.Millisecond
	}

	var sb strings.Builder

	// Header
	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")

	header := fmt.Sprintf("│ Run: %-*s %s  Total: %s  │\n",
		r.Width-40,
		truncate(run.ID, r.Width-40),
		run.Status,
		formatDuration(totalDuration))
	sb.WriteString(header)

	sb.WriteString("├" + border + "┤\n")

	// Render each step
	for _, step := range steps {
		line := r.renderStep(step, minTime, totalDuration)
		sb.WriteString(line)
	}

	// Footer
	sb.WriteString("└" + border + "┘\n")

	return sb.String(), nil
}

// calculateBounds finds the earliest start and latest end time across the run.
func (r *Renderer) calculateBounds(run *backend.Run, steps []*backend.Step) (time.Time, time.Time) {
	minTime := run.CreatedAt
	if run.StartedAt != nil {
		minTime = *run.StartedAt
	}

	maxTime := minTime
	if run.FinishedAt != nil {
		maxTime = *run.FinishedAt
	}

	for _, step := range steps {
		if step.StartedAt != nil && step.StartedAt.Before(minTime) {
			minTime = *step.StartedAt
		}
		switch {
		case step.FinishedAt != nil && step.FinishedAt.After(maxTime):
			maxTime = *step.FinishedAt
		case step.Status == backend.StepRunning:
			// In-flight step; the bar extends to now.
			if now := r.now(); now.After(maxTime) {
				maxTime = now
			}
		}
	}

	return minTime, maxTime
}

// renderStep generates a timeline line for a single step.
func (r *Renderer) renderStep(step *backend.Step, minTime time.Time, totalDuration time.Duration) string {
	bar := make([]rune, r.BarWidth)
	for i := range bar {
		bar[i] = '░'
	}

	var duration time.Duration
	if step.StartedAt != nil {
		end := r.now()
		if step.FinishedAt != nil {
			end = *step.FinishedAt
		}
		duration = end.Sub(*step.StartedAt)

		startOffset := step.StartedAt.Sub(minTime)
		startPos := int(float64(startOffset) / float64(totalDuration) * float64(r.BarWidth))
		barLength := int(float64(duration) / float64(totalDuration) * float64(r.BarWidth))

		if barLength < 1 {
			barLength = 1
		}
		if startPos >= r.BarWidth {
			startPos = r.BarWidth - 1
		}
		if startPos+barLength > r.BarWidth {
			barLength = r.BarWidth - startPos
		}
		for i := startPos; i < startPos+barLength; i++ {
			bar[i] = '█'
		}
	}

	statusIcon := statusIcon(step.Status)

	durationStr := ""
	if step.StartedAt != nil {
		durationStr = formatDuration(duration)
	}

	name := truncate(step.Name, 20)
	return fmt.Sprintf("│ %-20s %s  %7s  %s │\n",
		name,
		string(bar),
		durationStr,
		statusIcon,
	)
}

func statusIcon(status backend.StepStatus) string {
	switch status {
	case backend.StepSuccess:
		return StatusIconOK
	case backend.StepFailed:
		return StatusIconError
	case backend.StepSkipped:
		return StatusIconSkipped
	default:
		return StatusIconPending
	}
}

// truncate shortens a string to maxLen with ellipsis if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
