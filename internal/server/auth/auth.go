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

// Package auth validates the three credential kinds eifld accepts: admin
// JWTs on the management API, runner bearer tokens on the runner protocol,
// and the shared hook token on post-receive ingress.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eifl-dev/eifl/internal/server/backend"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// Issuer is the iss claim stamped into minted admin tokens.
const Issuer = "eifld"

// clockSkew tolerates small clock drift between the CLI host and the server
// when validating exp/nbf.
const clockSkew = 30 * time.Second

// Claims are the admin token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWT mints and validates admin API tokens with a symmetric key (HS256).
type JWT struct {
	secret []byte
	ttl    time.Duration
}

// NewJWT creates the admin token authority. An empty secret leaves the
// admin API unconfigured: every mint and validate fails Unauthorized.
func NewJWT(secret string, ttl time.Duration) *JWT {
	j := &JWT{ttl: ttl}
	if secret != "" {
		j.secret = []byte(secret)
	}
	return j
}

// Configured reports whether a signing secret is present.
func (j *JWT) Configured() bool {
	return len(j.secret) > 0
}

// Mint issues an admin token valid from now for the configured TTL.
func (j *JWT) Mint(now time.Time) (string, time.Time, error) {
	if !j.Configured() {
		return "", time.Time{}, &eiflerrors.UnauthorizedError{Reason: "admin API is not configured"}
	}

	expires := now.Add(j.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: "admin",
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and checks an admin token. Every failure mode collapses
// to Unauthorized so callers cannot distinguish expiry from tampering.
func (j *JWT) Validate(tokenString string) (*Claims, error) {
	if !j.Configured() {
		return nil, &eiflerrors.UnauthorizedError{Reason: "admin API is not configured"}
	}
	if tokenString == "" {
		return nil, &eiflerrors.UnauthorizedError{Reason: "missing token"}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(clockSkew),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, &eiflerrors.UnauthorizedError{Reason: "invalid token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, &eiflerrors.UnauthorizedError{Reason: "invalid token"}
	}
	return claims, nil
}

// VerifyLoginSecret checks the credential presented at login against the
// signing secret in constant time. Knowing the secret is what makes an
// operator the admin; the minted JWT is what the CLI stores.
func (j *JWT) VerifyLoginSecret(presented string) error {
	if !j.Configured() {
		return &eiflerrors.UnauthorizedError{Reason: "admin API is not configured"}
	}
	if subtle.ConstantTimeCompare(j.secret, []byte(presented)) != 1 {
		return &eiflerrors.UnauthorizedError{Reason: "bad credentials"}
	}
	return nil
}

// Runners resolves runner bearer tokens against the store.
type Runners struct {
	store backend.RunnerStore
}

// NewRunners creates the runner token authenticator.
func NewRunners(store backend.RunnerStore) *Runners {
	return &Runners{store: store}
}

// Authenticate extracts the bearer token from the request and resolves it
// to a runner.
func (a *Runners) Authenticate(ctx context.Context, r *http.Request) (*backend.Runner, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, &eiflerrors.UnauthorizedError{Reason: "missing bearer token"}
	}
	return a.AuthenticateToken(ctx, token)
}

// AuthenticateToken resolves a raw runner token. The git transport calls it
// directly because git clients send credentials as basic auth, not bearer.
// Unknown tokens are Unauthorized, not NotFound, so probing cannot enumerate
// runner IDs.
func (a *Runners) AuthenticateToken(ctx context.Context, token string) (*backend.Runner, error) {
	runner, err := a.store.GetRunnerByToken(ctx, token)
	if err != nil {
		var notFound *eiflerrors.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &eiflerrors.UnauthorizedError{Reason: "unknown runner token"}
		}
		return nil, err
	}
	return runner, nil
}

// BearerToken extracts the credential from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// NewToken returns a fresh 256-bit random token, hex-encoded. Used for
// runner registration.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveHookToken computes a stable hook token from the JWT secret for
// deployments that do not configure one explicitly. Generated post-receive
// hooks embed it, so it must survive restarts.
func DeriveHookToken(jwtSecret string) string {
	if jwtSecret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(jwtSecret))
	mac.Write([]byte("eifl-hook-token-v1"))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHookToken compares a presented hook token in constant time.
func VerifyHookToken(presented, expected string) error {
	if expected == "" {
		return &eiflerrors.UnauthorizedError{Reason: "hook ingress is not configured"}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return &eiflerrors.UnauthorizedError{Reason: "bad hook token"}
	}
	return nil
}
