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
	"fmt"
	"os"
	"path/filepath"

	"github.com/eifl-dev/eifl/internal/manifest"
)

// ResolveManifestPath resolves a manifest argument to an actual file path.
// Resolution order:
// 1. If arg exists as a file, return it
// 2. If arg is a directory containing .eifl.json, return that
// 3. An empty arg means the current directory
func ResolveManifestPath(arg string) (string, error) {
	if arg == "" {
		arg = "."
	}

	info, err := os.Stat(arg)
	if err == nil {
		if info.IsDir() {
			manifestPath := filepath.Join(arg, manifest.FileName)
			if _, err := os.Stat(manifestPath); err == nil {
				return manifestPath, nil
			}
			return "", fmt.Errorf("directory %q exists but does not contain %s", arg, manifest.FileName)
		}
		return arg, nil
	}

	return "", fmt.Errorf("manifest not found: tried %q", arg)
}
