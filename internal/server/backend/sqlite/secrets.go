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
	"database/sql"
	"fmt"
	"time"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// CreateSecret inserts a secret row. The value arrives already encrypted;
// this layer never sees plaintext.
func (s *Store) CreateSecret(ctx context.Context, sec *backend.Secret) error {
	query := `
		INSERT INTO secrets (id, scope, scope_id, name, encrypted_value, iv, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sec.ID,
		string(sec.Scope),
		sec.ScopeID,
		sec.Name,
		sec.EncryptedValue,
		sec.IV,
		mustFormat(sec.CreatedAt),
		mustFormat(sec.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return &eiflerrors.ConflictError{
			Resource: "secret",
			Reason:   fmt.Sprintf("secret %s already exists at this scope", sec.Name),
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create secret: %w", err)
	}
	return nil
}

// UpdateSecretValue replaces the ciphertext and IV of an existing secret.
func (s *Store) UpdateSecretValue(ctx context.Context, scope backend.SecretScope, scopeID, name, encryptedValue, iv string, now time.Time) error {
	query := `
		UPDATE secrets
		SET encrypted_value = ?, iv = ?, updated_at = ?
		WHERE scope = ? AND scope_id = ? AND name = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		encryptedValue,
		iv,
		mustFormat(now),
		string(scope),
		scopeID,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "secret", ID: name}
	}

	return nil
}

// GetSecret retrieves a secret by scope and name.
func (s *Store) GetSecret(ctx context.Context, scope backend.SecretScope, scopeID, name string) (*backend.Secret, error) {
	query := `
		SELECT id, scope, scope_id, name, encrypted_value, iv, created_at, updated_at
		FROM secrets
		WHERE scope = ? AND scope_id = ? AND name = ?
	`
	row := s.db.QueryRowContext(ctx, query, string(scope), scopeID, name)

	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, &eiflerrors.NotFoundError{Resource: "secret", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return sec, nil
}

// ListSecrets lists the secrets at a scope ordered by name.
func (s *Store) ListSecrets(ctx context.Context, scope backend.SecretScope, scopeID string) ([]*backend.Secret, error) {
	query := `
		SELECT id, scope, scope_id, name, encrypted_value, iv, created_at, updated_at
		FROM secrets
		WHERE scope = ? AND scope_id = ?
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(scope), scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*backend.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		secrets = append(secrets, sec)
	}

	return secrets, rows.Err()
}

// DeleteSecret removes a secret.
func (s *Store) DeleteSecret(ctx context.Context, scope backend.SecretScope, scopeID, name string) error {
	query := `DELETE FROM secrets WHERE scope = ? AND scope_id = ? AND name = ?`
	result, err := s.db.ExecContext(ctx, query, string(scope), scopeID, name)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &eiflerrors.NotFoundError{Resource: "secret", ID: name}
	}

	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(row scanner) (*backend.Secret, error) {
	var sec backend.Secret
	var scope, createdAt, updatedAt string

	err := row.Scan(&sec.ID, &scope, &sec.ScopeID, &sec.Name, &sec.EncryptedValue, &sec.IV, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sec.Scope = backend.SecretScope(scope)
	sec.CreatedAt = parseTimeStr(createdAt)
	sec.UpdatedAt = parseTimeStr(updatedAt)
	return &sec, nil
}
