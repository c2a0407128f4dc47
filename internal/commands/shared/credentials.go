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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/eifl-dev/eifl/internal/config"
)

const (
	// keyringService is the service name used for keychain entries. Tokens
	// are keyed by server URL so one machine can talk to several servers.
	keyringService = "eifl"

	// credentialsFile is the fallback token store for hosts without a
	// usable keychain (headless Linux, containers).
	credentialsFile = "credentials.json"
)

// TokenEnvVar overrides any stored token when set.
const TokenEnvVar = "EIFL_TOKEN"

// LoadToken returns the admin token for a server. Precedence: the
// EIFL_TOKEN environment variable, the system keychain, then the
// credentials file. A missing token is not an error; the server rejects
// unauthenticated requests and the CLI surfaces that as a login prompt.
func LoadToken(serverURL string) (string, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, nil
	}

	token, err := keyring.Get(keyringService, serverURL)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		// Keychain locked or unavailable; fall through to the file store.
		return loadFileToken(serverURL)
	}

	return loadFileToken(serverURL)
}

// StoreToken saves the token for a server, preferring the system keychain
// and falling back to the credentials file.
func StoreToken(serverURL, token string) error {
	if err := keyring.Set(keyringService, serverURL, token); err == nil {
		return nil
	}
	return storeFileToken(serverURL, token)
}

// DeleteToken removes the stored token for a server from both stores.
// A missing or unavailable keychain entry is not a logout failure.
func DeleteToken(serverURL string) error {
	_ = keyring.Delete(keyringService, serverURL)
	return deleteFileToken(serverURL)
}

func credentialsPath() (string, error) {
	dir, err := config.CLIDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, credentialsFile), nil
}

func loadFileToken(serverURL string) (string, error) {
	path, err := credentialsPath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading credentials file: %w", err)
	}

	var tokens map[string]string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return "", fmt.Errorf("parsing credentials file: %w", err)
	}
	return tokens[serverURL], nil
}

func storeFileToken(serverURL, token string) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}

	tokens := map[string]string{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &tokens); err != nil {
			tokens = map[string]string{}
		}
	}
	tokens[serverURL] = token

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

func deleteFileToken(serverURL string) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var tokens map[string]string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}
	if _, ok := tokens[serverURL]; !ok {
		return nil
	}
	delete(tokens, serverURL)

	out, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
