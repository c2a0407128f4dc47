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

// Package webhook ingests GitHub push events for repos whose contents live
// on github.com rather than on this server.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// VerifySignature checks the X-Hub-Signature-256 header against the HMAC of
// the raw body. Legacy SHA-1 signatures are rejected outright.
func VerifySignature(r *http.Request, body []byte, secret string) error {
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		if r.Header.Get("X-Hub-Signature") != "" {
			return fmt.Errorf("SHA-1 signatures not supported, configure the webhook for SHA-256")
		}
		return fmt.Errorf("missing X-Hub-Signature-256 header")
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("invalid signature format")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Event returns the delivery's event type (push, ping, ...).
func Event(r *http.Request) string {
	return r.Header.Get("X-GitHub-Event")
}

// PushEvent is the slice of GitHub's push payload EIFL consumes.
type PushEvent struct {
	Ref        string         `json:"ref"`
	After      string         `json:"after"`
	Deleted    bool           `json:"deleted"`
	Repository PushRepository `json:"repository"`
}

// PushRepository identifies the pushed-to repository. Operators register
// repos by either the clone URL or the HTML URL, so both are kept.
type PushRepository struct {
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
}

// ParsePush decodes a push delivery body.
func ParsePush(body []byte) (*PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to parse push event: %w", err)
	}
	if event.Ref == "" {
		return nil, errors.New("push event has no ref")
	}
	return &event, nil
}

// Branch returns the pushed branch name, or false for tag and other refs.
func (e *PushEvent) Branch() (string, bool) {
	const prefix = "refs/heads/"
	if !strings.HasPrefix(e.Ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(e.Ref, prefix), true
}

// RemoteCandidates lists the URL spellings under which the pushed repo may
// have been registered, most specific first.
func (e *PushEvent) RemoteCandidates() []string {
	seen := make(map[string]struct{}, 3)
	var candidates []string
	for _, url := range []string{
		e.Repository.CloneURL,
		strings.TrimSuffix(e.Repository.CloneURL, ".git"),
		e.Repository.HTMLURL,
	} {
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		candidates = append(candidates, url)
	}
	return candidates
}
