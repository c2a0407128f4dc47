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

package manifest

import "testing"

func TestEvaluateStepCondition(t *testing.T) {
	ctx := Context{Trigger: "schedule", Branch: "main"}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty always runs", "", true},
		{"whitespace only always runs", "   ", true},
		{"equality true", "trigger == 'schedule'", true},
		{"equality false", "trigger == 'push'", false},
		{"inequality true", "trigger != 'push'", true},
		{"inequality false", "trigger != 'schedule'", false},
		{"branch equality", "branch == 'main'", true},
		{"tight whitespace", "trigger=='schedule'", true},
		{"extra whitespace", "  trigger   ==   'schedule'  ", true},
		{"unknown variable fails closed", "commit == 'abc'", false},
		{"double-quoted literal fails closed", `trigger == "schedule"`, false},
		{"unquoted literal fails closed", "trigger == schedule", false},
		{"unsupported operator fails closed", "trigger >= 'schedule'", false},
		{"bare variable fails closed", "trigger", false},
		{"trailing garbage fails closed", "trigger == 'schedule' x", false},
		{"missing close quote fails closed", "trigger == 'schedule", false},
		{"operator characters inside literal", "trigger != 'a == b'", true},
		{"empty literal compares", "branch == ''", false},
		{"empty literal inequality", "branch != ''", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateStepCondition(tt.expr, ctx); got != tt.want {
				t.Errorf("EvaluateStepCondition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateStepConditionPushRun(t *testing.T) {
	// A bench step gated on schedule triggers must not run for a
	// push-triggered run.
	pushCtx := Context{Trigger: "push", Branch: "main"}
	schedCtx := Context{Trigger: "schedule", Branch: "main"}

	expr := "trigger == 'schedule'"
	if EvaluateStepCondition(expr, pushCtx) {
		t.Errorf("push-triggered run should not satisfy %q", expr)
	}
	if !EvaluateStepCondition(expr, schedCtx) {
		t.Errorf("scheduled run should satisfy %q", expr)
	}
}
