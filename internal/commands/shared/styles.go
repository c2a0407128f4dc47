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

package shared

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/eifl-dev/eifl/internal/server/backend"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// StatusInfo styles informational text
	StatusInfo = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // blue

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolInfo  = "•"
)

// ColorEnabled reports whether ANSI color output should be used. Color is
// off when NO_COLOR is set, when TERM is dumb, or when stdout is not a
// terminal.
func ColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderWarn renders a warning message with orange symbol
func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return Muted.Render(label)
}

// RenderRunStatus renders a run or step status with the color operators
// expect: green for success, red for failed, orange for cancelled, blue
// for running, gray for pending and skipped.
func RenderRunStatus(status backend.RunStatus) string {
	s := string(status)
	if !ColorEnabled() {
		return s
	}
	switch status {
	case backend.RunSuccess:
		return StatusOK.Render(s)
	case backend.RunFailed:
		return StatusError.Render(s)
	case backend.RunCancelled:
		return StatusWarn.Render(s)
	case backend.RunRunning:
		return StatusInfo.Render(s)
	default:
		return Muted.Render(s)
	}
}

// RenderStepStatus renders a step status using the run status palette.
func RenderStepStatus(status backend.StepStatus) string {
	s := string(status)
	if !ColorEnabled() {
		return s
	}
	switch status {
	case backend.StepSuccess:
		return StatusOK.Render(s)
	case backend.StepFailed:
		return StatusError.Render(s)
	case backend.StepSkipped:
		return StatusWarn.Render(s)
	case backend.StepRunning:
		return StatusInfo.Render(s)
	default:
		return Muted.Render(s)
	}
}
