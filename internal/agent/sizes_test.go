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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspaceFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestCaptureSizes(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "dist/app.js", 1024)
	writeWorkspaceFile(t, ws, "dist/app.css", 256)
	writeWorkspaceFile(t, ws, "dist/assets/logo.png", 99)
	writeWorkspaceFile(t, ws, "README.md", 10)

	// Overlapping patterns deduplicate on the matched path.
	metrics := captureSizes(ws, []string{"dist/*.js", "dist/*.js", "*.md"})
	require.Len(t, metrics, 2)
	assert.Equal(t, "size.dist_app.js", metrics[0].Key)
	assert.Equal(t, float64(1024), metrics[0].Value)
	assert.Equal(t, "bytes", metrics[0].Unit)
	assert.Equal(t, "size.README.md", metrics[1].Key)
	assert.Equal(t, float64(10), metrics[1].Value)
}

func TestCaptureSizesRecursiveGlob(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "dist/app.js", 1)
	writeWorkspaceFile(t, ws, "dist/assets/logo.png", 2)

	// Directories match the glob but are not regular files.
	metrics := captureSizes(ws, []string{"dist/**"})

	keys := make([]string, 0, len(metrics))
	for _, m := range metrics {
		keys = append(keys, m.Key)
	}
	assert.ElementsMatch(t, []string{"size.dist_app.js", "size.dist_assets_logo.png"}, keys)
}

func TestCaptureSizesSkipsBadPatterns(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "out.bin", 5)

	// A malformed pattern is skipped without dropping the rest.
	metrics := captureSizes(ws, []string{"[", "missing/*.bin", "*.bin"})
	require.Len(t, metrics, 1)
	assert.Equal(t, "size.out.bin", metrics[0].Key)
	assert.Equal(t, float64(5), metrics[0].Value)
}

func TestSanitizeMetricPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"dist/app.js", "dist_app.js"},
		{"a b/c.txt", "a_b_c.txt"},
		{"weird$name!.bin", "weird_name_.bin"},
		{"under_score-dash.keep", "under_score-dash.keep"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeMetricPath(tt.in))
	}
}
