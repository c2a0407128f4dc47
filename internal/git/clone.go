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
	"context"
	"fmt"
	"strings"
)

// Clone checks out a repository into dest. When branch is non-empty the
// clone is restricted to that branch. Used by runners to materialize a job
// workspace; the server never clones.
func Clone(ctx context.Context, url, dest, branch string) error {
	args := []string{"clone", "--no-tags"}
	if branch != "" {
		args = append(args, "--branch", branch, "--single-branch")
	}
	args = append(args, url, dest)

	if _, stderr, err := runGit(ctx, "", args...); err != nil {
		return fmt.Errorf("failed to clone %s: %w: %s", redactURL(url), err, strings.TrimSpace(stderr))
	}
	return nil
}

// Checkout moves the working tree to a specific commit.
func Checkout(ctx context.Context, dir, sha string) error {
	if _, stderr, err := runGit(ctx, dir, "checkout", "--detach", sha); err != nil {
		return fmt.Errorf("failed to checkout %s: %w: %s", sha, err, strings.TrimSpace(stderr))
	}
	return nil
}

// redactURL strips user-info (tokens) from a clone URL before it can land
// in an error message or log line.
func redactURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd < 0 {
		return url
	}
	rest := url[schemeEnd+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return url
	}
	slash := strings.Index(rest, "/")
	if slash >= 0 && slash < at {
		return url
	}
	return url[:schemeEnd+3] + "***@" + rest[at+1:]
}
