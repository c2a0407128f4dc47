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

package secrets

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/backend/sqlite"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cipher, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, cipher, logger), store
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, backend.ScopeProject, "proj-1", "API_KEY", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "hunter2", created.EncryptedValue, "plaintext must never be stored")
	assert.NotEmpty(t, created.IV)

	got, err := svc.Get(ctx, backend.ScopeProject, "proj-1", "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, backend.ScopeProject, got.Scope)
	assert.Equal(t, created.EncryptedValue, got.EncryptedValue)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, backend.ScopeRepo, "repo-1", "TOKEN", "one")
	require.NoError(t, err)

	_, err = svc.Create(ctx, backend.ScopeRepo, "repo-1", "TOKEN", "two")
	var conflict *eiflerrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "secret", conflict.Resource)

	// Same name at a different scope is fine.
	_, err = svc.Create(ctx, backend.ScopeProject, "proj-1", "TOKEN", "three")
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		scope      backend.SecretScope
		secretName string
		wantField  string
	}{
		{"lowercase name", backend.ScopeProject, "api_key", "name"},
		{"leading digit", backend.ScopeProject, "1KEY", "name"},
		{"leading underscore", backend.ScopeProject, "_KEY", "name"},
		{"empty name", backend.ScopeProject, "", "name"},
		{"hyphenated", backend.ScopeProject, "API-KEY", "name"},
		{"bad scope", backend.SecretScope("team"), "API_KEY", "scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.scope, "id-1", tt.secretName, "v")
			var verr *eiflerrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestUpdateReplacesValue(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, backend.ScopeRepo, "repo-1", "DEPLOY_KEY", "v1")
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, backend.ScopeRepo, "repo-1", "DEPLOY_KEY", "v2"))

	got, err := store.GetSecret(ctx, backend.ScopeRepo, "repo-1", "DEPLOY_KEY")
	require.NoError(t, err)
	assert.NotEqual(t, created.EncryptedValue, got.EncryptedValue)

	merged, err := svc.MergedForRepo(ctx, &backend.Repo{ID: "repo-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, "v2", merged["DEPLOY_KEY"])
}

func TestUpdateMissingSecret(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Update(context.Background(), backend.ScopeRepo, "repo-1", "NOPE", "v")
	var notFound *eiflerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, backend.ScopeProject, "proj-1", "GONE", "v")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, backend.ScopeProject, "proj-1", "GONE"))

	err = svc.Delete(ctx, backend.ScopeProject, "proj-1", "GONE")
	var notFound *eiflerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, backend.ScopeProject, "proj-1", "B_KEY", "b")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeProject, "proj-1", "A_KEY", "a")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeProject, "proj-2", "A_KEY", "other project")
	require.NoError(t, err)

	list, err := svc.List(ctx, backend.ScopeProject, "proj-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A_KEY", list[0].Name)
	assert.Equal(t, "B_KEY", list[1].Name)
}

func TestMergedForRepoOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := &backend.Repo{ID: "repo-1", ProjectID: "proj-1"}

	_, err := svc.Create(ctx, backend.ScopeProject, "proj-1", "SHARED", "project level")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeProject, "proj-1", "PROJECT_ONLY", "p")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeRepo, "repo-1", "SHARED", "repo level")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeRepo, "repo-1", "REPO_ONLY", "r")
	require.NoError(t, err)

	merged, err := svc.MergedForRepo(ctx, repo)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"SHARED":       "repo level",
		"PROJECT_ONLY": "p",
		"REPO_ONLY":    "r",
	}, merged)
}

func TestMergedForRepoSkipsUndecryptable(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	repo := &backend.Repo{ID: "repo-1", ProjectID: "proj-1"}

	_, err := svc.Create(ctx, backend.ScopeRepo, "repo-1", "GOOD", "still here")
	require.NoError(t, err)
	_, err = svc.Create(ctx, backend.ScopeRepo, "repo-1", "BAD", "soon broken")
	require.NoError(t, err)

	// Corrupt BAD's ciphertext directly in the store.
	garbage := base64.StdEncoding.EncodeToString([]byte("garbage"))
	badIV := base64.StdEncoding.EncodeToString(make([]byte, 12))
	require.NoError(t, store.UpdateSecretValue(ctx, backend.ScopeRepo, "repo-1", "BAD", garbage, badIV, time.Now().UTC()))

	merged, err := svc.MergedForRepo(ctx, repo)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"GOOD": "still here"}, merged)
}

func TestNotConfigured(t *testing.T) {
	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "eifl.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, nil, logger)
	ctx := context.Background()

	assert.False(t, svc.Configured())

	_, err = svc.Create(ctx, backend.ScopeProject, "proj-1", "API_KEY", "v")
	assert.ErrorIs(t, err, eiflerrors.ErrEncryptionNotConfigured)

	_, err = svc.List(ctx, backend.ScopeProject, "proj-1")
	assert.ErrorIs(t, err, eiflerrors.ErrEncryptionNotConfigured)

	err = svc.Delete(ctx, backend.ScopeProject, "proj-1", "API_KEY")
	assert.ErrorIs(t, err, eiflerrors.ErrEncryptionNotConfigured)

	// Dispatch is not blocked by a missing key; it just gets no secrets.
	merged, err := svc.MergedForRepo(ctx, &backend.Repo{ID: "repo-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Empty(t, merged)
}
