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

import (
	"io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/eifl-dev/eifl/internal/server/lifecycle"
)

// captureSizes resolves capture_sizes globs against the workspace and
// returns one "size.<sanitized-path>" metric per matched regular file,
// in bytes. Bad patterns and unreadable files are skipped; size capture
// never fails a step.
func captureSizes(workspace string, patterns []string) []lifecycle.MetricInput {
	fsys := os.DirFS(workspace)
	seen := make(map[string]bool)

	var out []lifecycle.MetricInput
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true

			info, err := fs.Stat(fsys, match)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			out = append(out, lifecycle.MetricInput{
				Key:   "size." + sanitizeMetricPath(match),
				Value: float64(info.Size()),
				Unit:  "bytes",
			})
		}
	}
	return out
}

// sanitizeMetricPath maps a workspace-relative path to a metric key
// segment. Separators and anything outside [A-Za-z0-9._-] become '_'.
func sanitizeMetricPath(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
