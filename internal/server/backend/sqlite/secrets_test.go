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

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

func seedSecret(t *testing.T, s *Store, scope backend.SecretScope, scopeID, name string) *backend.Secret {
	t.Helper()

	now := msNow()
	sec := &backend.Secret{
		ID:             uuid.New().String(),
		Scope:          scope,
		ScopeID:        scopeID,
		Name:           name,
		EncryptedValue: "enc-" + uuid.New().String(),
		IV:             "iv-" + uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateSecret(context.Background(), sec))
	return sec
}

func TestSecretRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)

	secret := seedSecret(t, store, backend.ScopeProject, project.ID, "API_KEY")

	got, err := store.GetSecret(ctx, backend.ScopeProject, project.ID, "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCreateSecretDuplicateAtScope(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)

	seedSecret(t, store, backend.ScopeProject, project.ID, "API_KEY")

	now := msNow()
	dup := &backend.Secret{
		ID: uuid.New().String(), Scope: backend.ScopeProject, ScopeID: project.ID,
		Name: "API_KEY", EncryptedValue: "enc", IV: "iv", CreatedAt: now, UpdatedAt: now,
	}
	var conflict *eiflerrors.ConflictError
	require.ErrorAs(t, store.CreateSecret(ctx, dup), &conflict)
	assert.Equal(t, "secret", conflict.Resource)

	// The same name at a narrower scope shadows rather than conflicts.
	seedSecret(t, store, backend.ScopeRepo, repo.ID, "API_KEY")
}

func TestUpdateSecretValue(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	secret := seedSecret(t, store, backend.ScopeProject, project.ID, "API_KEY")

	rotatedAt := msNow().Add(time.Minute)
	require.NoError(t, store.UpdateSecretValue(ctx, backend.ScopeProject, project.ID, "API_KEY", "enc-rotated", "iv-rotated", rotatedAt))

	got, err := store.GetSecret(ctx, backend.ScopeProject, project.ID, "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, secret.ID, got.ID)
	assert.Equal(t, "enc-rotated", got.EncryptedValue)
	assert.Equal(t, "iv-rotated", got.IV)
	assert.Equal(t, rotatedAt, got.UpdatedAt)
	assert.Equal(t, secret.CreatedAt, got.CreatedAt)

	var notFound *eiflerrors.NotFoundError
	err = store.UpdateSecretValue(ctx, backend.ScopeProject, project.ID, "MISSING", "enc", "iv", msNow())
	require.ErrorAs(t, err, &notFound)
}

func TestListSecretsScopedAndOrdered(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	repo := seedRepo(t, store, project.ID)

	seedSecret(t, store, backend.ScopeProject, project.ID, "REGISTRY_TOKEN")
	seedSecret(t, store, backend.ScopeProject, project.ID, "API_KEY")
	seedSecret(t, store, backend.ScopeRepo, repo.ID, "DEPLOY_KEY")

	projectSecrets, err := store.ListSecrets(ctx, backend.ScopeProject, project.ID)
	require.NoError(t, err)
	require.Len(t, projectSecrets, 2)
	assert.Equal(t, "API_KEY", projectSecrets[0].Name)
	assert.Equal(t, "REGISTRY_TOKEN", projectSecrets[1].Name)

	repoSecrets, err := store.ListSecrets(ctx, backend.ScopeRepo, repo.ID)
	require.NoError(t, err)
	require.Len(t, repoSecrets, 1)
	assert.Equal(t, "DEPLOY_KEY", repoSecrets[0].Name)
}

func TestDeleteSecret(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	project := seedProject(t, store)
	seedSecret(t, store, backend.ScopeProject, project.ID, "API_KEY")

	require.NoError(t, store.DeleteSecret(ctx, backend.ScopeProject, project.ID, "API_KEY"))

	var notFound *eiflerrors.NotFoundError
	_, err := store.GetSecret(ctx, backend.ScopeProject, project.ID, "API_KEY")
	require.ErrorAs(t, err, &notFound)

	require.ErrorAs(t, store.DeleteSecret(ctx, backend.ScopeProject, project.ID, "API_KEY"), &notFound)
}
