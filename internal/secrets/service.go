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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// Service manages encrypted secrets per scope. Plaintext crosses its
// boundary in exactly two places: on the way in through Create/Update and
// on the way out through MergedForRepo when a job payload is built.
type Service struct {
	store  backend.SecretStore
	cipher *Cipher
	logger *slog.Logger
}

// NewService creates a secret service. cipher may be nil when no
// encryption key is configured; every operation then reports
// ErrEncryptionNotConfigured.
func NewService(store backend.SecretStore, cipher *Cipher, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cipher: cipher,
		logger: log.WithComponent(logger, "secrets"),
	}
}

// Configured reports whether an encryption key is available.
func (s *Service) Configured() bool {
	return s.cipher != nil
}

// Create encrypts value and stores it at the given scope. The name must
// look like an environment variable; a duplicate name at the same scope
// conflicts.
func (s *Service) Create(ctx context.Context, scope backend.SecretScope, scopeID, name, value string) (*backend.Secret, error) {
	if s.cipher == nil {
		return nil, eiflerrors.ErrEncryptionNotConfigured
	}
	if err := validate(scope, name); err != nil {
		return nil, err
	}

	encrypted, iv, err := s.cipher.Encrypt(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	now := time.Now().UTC()
	sec := &backend.Secret{
		ID:             uuid.New().String(),
		Scope:          scope,
		ScopeID:        scopeID,
		Name:           name,
		EncryptedValue: encrypted,
		IV:             iv,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateSecret(ctx, sec); err != nil {
		return nil, err
	}

	s.logger.Info("secret created", "name", name, "scope", string(scope))
	return sec, nil
}

// Update re-encrypts value for an existing secret.
func (s *Service) Update(ctx context.Context, scope backend.SecretScope, scopeID, name, value string) error {
	if s.cipher == nil {
		return eiflerrors.ErrEncryptionNotConfigured
	}
	if err := validate(scope, name); err != nil {
		return err
	}

	encrypted, iv, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	if err := s.store.UpdateSecretValue(ctx, scope, scopeID, name, encrypted, iv, time.Now().UTC()); err != nil {
		return err
	}

	s.logger.Info("secret updated", "name", name, "scope", string(scope))
	return nil
}

// Get returns a secret's metadata. The value stays encrypted.
func (s *Service) Get(ctx context.Context, scope backend.SecretScope, scopeID, name string) (*backend.Secret, error) {
	if s.cipher == nil {
		return nil, eiflerrors.ErrEncryptionNotConfigured
	}
	return s.store.GetSecret(ctx, scope, scopeID, name)
}

// List returns the secrets stored at a scope. Values stay encrypted.
func (s *Service) List(ctx context.Context, scope backend.SecretScope, scopeID string) ([]*backend.Secret, error) {
	if s.cipher == nil {
		return nil, eiflerrors.ErrEncryptionNotConfigured
	}
	if !scope.Valid() {
		return nil, &eiflerrors.ValidationError{Field: "scope", Message: "must be project or repo"}
	}
	return s.store.ListSecrets(ctx, scope, scopeID)
}

// Delete removes a secret.
func (s *Service) Delete(ctx context.Context, scope backend.SecretScope, scopeID, name string) error {
	if s.cipher == nil {
		return eiflerrors.ErrEncryptionNotConfigured
	}
	if err := s.store.DeleteSecret(ctx, scope, scopeID, name); err != nil {
		return err
	}
	s.logger.Info("secret deleted", "name", name, "scope", string(scope))
	return nil
}

// MergedForRepo resolves the secret environment for a repo's runs:
// project-scoped secrets first, then repo-scoped secrets override on name
// collisions. A value that fails to decrypt is logged and omitted rather
// than failing the dispatch. Without an encryption key the job simply
// ships with no secrets.
func (s *Service) MergedForRepo(ctx context.Context, repo *backend.Repo) (map[string]string, error) {
	merged := make(map[string]string)
	if s.cipher == nil {
		s.logger.Debug("encryption not configured, dispatching without secrets", log.RepoKey, repo.Path)
		return merged, nil
	}

	scopes := []struct {
		scope   backend.SecretScope
		scopeID string
	}{
		{backend.ScopeProject, repo.ProjectID},
		{backend.ScopeRepo, repo.ID},
	}

	for _, at := range scopes {
		list, err := s.store.ListSecrets(ctx, at.scope, at.scopeID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s secrets: %w", at.scope, err)
		}
		for _, sec := range list {
			plaintext, err := s.cipher.Decrypt(sec.EncryptedValue, sec.IV)
			if err != nil {
				derr := &eiflerrors.DecryptError{Name: sec.Name, Cause: err}
				s.logger.Warn("skipping secret that failed to decrypt",
					"name", sec.Name,
					"scope", string(sec.Scope),
					log.Error(derr))
				metrics.RecordSecretDecryptFailure()
				continue
			}
			merged[sec.Name] = plaintext
		}
	}

	return merged, nil
}

func validate(scope backend.SecretScope, name string) error {
	if !scope.Valid() {
		return &eiflerrors.ValidationError{Field: "scope", Message: "must be project or repo"}
	}
	if !backend.SecretNameRe.MatchString(name) {
		return &eiflerrors.ValidationError{
			Field:   "name",
			Message: "must match ^[A-Z][A-Z0-9_]*$ (environment variable shape)",
		}
	}
	return nil
}
