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

package prompt

import (
	"context"
	"fmt"
)

// MockPrompter implements Prompter with scripted responses for testing.
// It allows tests to simulate user input without requiring interactive terminals.
type MockPrompter struct {
	responses    []interface{}
	currentIndex int
	interactive  bool
	callLog      []string
}

// NewMockPrompter creates a new mock prompter with pre-scripted responses.
func NewMockPrompter(interactive bool, responses ...interface{}) *MockPrompter {
	return &MockPrompter{
		responses:   responses,
		interactive: interactive,
		callLog:     make([]string, 0),
	}
}

// PromptString returns the next string response.
func (mp *MockPrompter) PromptString(ctx context.Context, name, desc, def string) (string, error) {
	mp.callLog = append(mp.callLog, fmt.Sprintf("PromptString(%s)", name))

	if mp.currentIndex >= len(mp.responses) {
		return def, nil
	}

	resp := mp.responses[mp.currentIndex]
	mp.currentIndex++

	if str, ok := resp.(string); ok {
		return str, nil
	}

	return "", fmt.Errorf("mock response is not a string")
}

// PromptBool returns the next boolean response.
func (mp *MockPrompter) PromptBool(ctx context.Context, name, desc string, def bool) (bool, error) {
	mp.callLog = append(mp.callLog, fmt.Sprintf("PromptBool(%s)", name))

	if mp.currentIndex >= len(mp.responses) {
		return def, nil
	}

	resp := mp.responses[mp.currentIndex]
	mp.currentIndex++

	if b, ok := resp.(bool); ok {
		return b, nil
	}

	return false, fmt.Errorf("mock response is not a boolean")
}

// PromptSelect returns the next selection response.
func (mp *MockPrompter) PromptSelect(ctx context.Context, name, desc string, options []string, def string) (string, error) {
	mp.callLog = append(mp.callLog, fmt.Sprintf("PromptSelect(%s)", name))

	if mp.currentIndex >= len(mp.responses) {
		return def, nil
	}

	resp := mp.responses[mp.currentIndex]
	mp.currentIndex++

	if str, ok := resp.(string); ok {
		return str, nil
	}

	return "", fmt.Errorf("mock response is not a string")
}

// IsInteractive returns the configured interactive state.
func (mp *MockPrompter) IsInteractive() bool {
	return mp.interactive
}

// GetCallLog returns the log of all prompt calls made.
func (mp *MockPrompter) GetCallLog() []string {
	return mp.callLog
}

// Reset clears the call log and resets the response index.
func (mp *MockPrompter) Reset() {
	mp.currentIndex = 0
	mp.callLog = make([]string, 0)
}
