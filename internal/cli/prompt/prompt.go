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

// Package prompt provides interactive input collection for manifest
// scaffolding. It wraps the survey library behind a small interface so
// commands can be tested with scripted responses and refuse cleanly in
// non-interactive mode.
package prompt

import (
	"context"
)

// MaxInputSize is the maximum allowed input size in bytes.
const MaxInputSize = 65536

// Prompter defines the interface for interactive input collection.
// Implementations include SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// PromptString collects a string input from the user
	PromptString(ctx context.Context, name, desc, def string) (string, error)

	// PromptBool collects a yes/no answer from the user
	PromptBool(ctx context.Context, name, desc string, def bool) (bool, error)

	// PromptSelect presents a list of options and collects the user's selection
	PromptSelect(ctx context.Context, name, desc string, options []string, def string) (string, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}
