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
	"os"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/config"
)

// DefaultServerURL is used when no server is configured anywhere.
const DefaultServerURL = "http://127.0.0.1:8475"

// ServerEnvVar overrides the configured server URL when set.
const ServerEnvVar = "EIFL_SERVER_URL"

// ResolveServerURL returns the server the CLI should talk to. Precedence:
// the --server flag, EIFL_SERVER_URL, the config file, then the default
// local address.
func ResolveServerURL() string {
	if server := GetServer(); server != "" {
		return server
	}
	if server := os.Getenv(ServerEnvVar); server != "" {
		return server
	}
	if cfg, err := config.LoadCLI(GetConfigPath()); err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return DefaultServerURL
}

// BuildClient constructs an API client for the resolved server, attaching
// the stored token when one exists.
func BuildClient() (*client.Client, error) {
	serverURL := ResolveServerURL()

	token, err := LoadToken(serverURL)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(serverURL, opts...)
}
