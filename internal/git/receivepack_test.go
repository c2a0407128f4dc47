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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReceivePack(t *testing.T) {
	input := strings.Join([]string{
		"0000000000000000000000000000000000000000 1111111111111111111111111111111111111111 refs/heads/main",
		"",
		"2222222222222222222222222222222222222222 3333333333333333333333333333333333333333 refs/heads/release-1",
		"4444444444444444444444444444444444444444 0000000000000000000000000000000000000000 refs/heads/stale",
		"5555555555555555555555555555555555555555 6666666666666666666666666666666666666666 refs/tags/v1.0",
	}, "\n")

	changes, err := ParseReceivePack(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, changes, 4)

	assert.Equal(t, "refs/heads/main", changes[0].RefName)
	assert.Equal(t, strings.Repeat("1", 40), changes[0].NewRev)

	branch, ok := changes[0].Branch()
	assert.True(t, ok)
	assert.Equal(t, "main", branch)
	assert.False(t, changes[0].IsDelete())

	branch, ok = changes[1].Branch()
	assert.True(t, ok)
	assert.Equal(t, "release-1", branch)

	assert.True(t, changes[2].IsDelete())

	_, ok = changes[3].Branch()
	assert.False(t, ok, "tag refs are not branches")
}

func TestParseReceivePackEmpty(t *testing.T) {
	changes, err := ParseReceivePack(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = ParseReceivePack(strings.NewReader("\n\n  \n"))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestParseReceivePackMalformed(t *testing.T) {
	_, err := ParseReceivePack(strings.NewReader("justonefield"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = ParseReceivePack(strings.NewReader("a b c\nd e"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
