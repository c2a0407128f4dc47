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

package git

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseReceivePack reads the line format git feeds a post-receive hook on
// stdin: one "<oldrev> <newrev> <refname>" record per line. Blank lines
// are ignored; anything else is a validation error.
func ParseReceivePack(r io.Reader) ([]Change, error) {
	var changes []Change

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed receive-pack record on line %d: %q", line, text)
		}

		changes = append(changes, Change{
			OldRev:  fields[0],
			NewRev:  fields[1],
			RefName: fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read receive-pack records: %w", err)
	}

	return changes, nil
}
