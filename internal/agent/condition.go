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

package agent

import "strings"

// evalCondition evaluates a step "if" expression against the run context.
// The grammar is exactly `var == 'literal'` and `var != 'literal'` with
// optional whitespace; vars resolve through vars (usually trigger and
// branch). Anything unparseable, including unknown vars, evaluates to
// false so a bad condition skips the step instead of running it.
func evalCondition(expr string, vars map[string]string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	// Take whichever operator appears first so a literal containing the
	// other operator cannot shift the split point.
	eqIdx := strings.Index(expr, "==")
	neIdx := strings.Index(expr, "!=")
	op, idx := "==", eqIdx
	if eqIdx < 0 || (neIdx >= 0 && neIdx < eqIdx) {
		op, idx = "!=", neIdx
	}
	if idx < 0 {
		return false
	}

	name := strings.TrimSpace(expr[:idx])
	literal := strings.TrimSpace(expr[idx+len(op):])
	if name == "" || len(literal) < 2 || literal[0] != '\'' || literal[len(literal)-1] != '\'' {
		return false
	}
	literal = literal[1 : len(literal)-1]

	value, ok := vars[name]
	if !ok {
		return false
	}

	if op == "==" {
		return value == literal
	}
	return value != literal
}
