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

import "strings"

// Context carries the variables a step condition may reference.
type Context struct {
	// Trigger is the run's triggered_by value (push, schedule, manual,
	// github-push).
	Trigger string

	// Branch is the branch the run was created against, or empty.
	Branch string
}

func (c Context) lookup(name string) (string, bool) {
	switch name {
	case "trigger":
		return c.Trigger, true
	case "branch":
		return c.Branch, true
	}
	return "", false
}

// EvaluateStepCondition evaluates a step's `if` expression against the
// context. The grammar is deliberately minimal: exactly `var == 'literal'`
// or `var != 'literal'` with optional whitespace, where var is trigger or
// branch. Anything the grammar does not recognize evaluates to false, so
// a typo disables a step rather than running it unconditionally. An empty
// expression means the step always runs.
func EvaluateStepCondition(expr string, ctx Context) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}

	variable, op, literal, ok := parseCondition(expr)
	if !ok {
		return false
	}
	value, known := ctx.lookup(variable)
	if !known {
		return false
	}
	if op == "==" {
		return value == literal
	}
	return value != literal
}

// parseCondition splits a trimmed expression into identifier, operator, and
// single-quoted literal. It scans rather than regex-matching so the quoted
// literal may contain operator characters.
func parseCondition(expr string) (variable, op, literal string, ok bool) {
	i := 0

	// Identifier: [A-Za-z_][A-Za-z0-9_]*
	for i < len(expr) && isIdentChar(expr[i], i == 0) {
		i++
	}
	if i == 0 {
		return "", "", "", false
	}
	variable = expr[:i]

	for i < len(expr) && expr[i] == ' ' {
		i++
	}

	if i+2 > len(expr) {
		return "", "", "", false
	}
	op = expr[i : i+2]
	if op != "==" && op != "!=" {
		return "", "", "", false
	}
	i += 2

	for i < len(expr) && expr[i] == ' ' {
		i++
	}

	// Single-quoted literal closing at the final character.
	if i >= len(expr) || expr[i] != '\'' || expr[len(expr)-1] != '\'' || len(expr)-1 <= i {
		return "", "", "", false
	}
	literal = expr[i+1 : len(expr)-1]
	if strings.ContainsRune(literal, '\'') {
		return "", "", "", false
	}
	return variable, op, literal, true
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case !first && c >= '0' && c <= '9':
		return true
	}
	return false
}
