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

// Package secrets implements encryption at rest for secret values and the
// service that manages them per scope.
//
// Values are sealed with AES-256-GCM under a key derived once per process
// from EIFL_ENCRYPTION_KEY. The ciphertext and the IV travel as separate
// base64 columns so either can be inspected without decoding the other.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

const (
	// keySalt is the fixed application salt for key derivation. Changing it
	// would orphan every ciphertext already on disk, so it never changes.
	keySalt = "eifl-secret-store-v1"

	// keyIterations is the PBKDF2 iteration count.
	keyIterations = 100_000

	// keyLen is the derived key size in bytes (AES-256).
	keyLen = 32

	// MinKeyChars is the minimum length of the operator-supplied key.
	MinKeyChars = 32
)

// Cipher seals and opens secret values with AES-256-GCM.
//
// The AEAD key is derived from the operator passphrase by
// PBKDF2-HMAC-SHA-256 (100,000 iterations, fixed salt) exactly once, at
// construction. A Cipher is immutable after construction and safe for
// concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AES-256 key from the configured passphrase and
// prepares the GCM cipher.
//
// An empty passphrase returns ErrEncryptionNotConfigured: the server still
// starts, but secret management is unavailable until a key is provided. A
// passphrase shorter than MinKeyChars is a configuration error.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, eiflerrors.ErrEncryptionNotConfigured
	}
	if len(passphrase) < MinKeyChars {
		return nil, &eiflerrors.ConfigError{
			Key:    "secrets.encryption_key",
			Reason: fmt.Sprintf("must be at least %d characters, got %d", MinKeyChars, len(passphrase)),
		}
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals a UTF-8 plaintext under a fresh random 96-bit IV.
// It returns the ciphertext (including the GCM auth tag) and the IV,
// each base64-encoded for storage.
func (c *Cipher) Encrypt(plaintext string) (encrypted, iv string, err error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce),
		nil
}

// Decrypt opens a base64 ciphertext with its base64 IV and returns the
// plaintext. Any failure (bad encoding, wrong IV size, failed auth tag)
// comes back as a plain error; callers that know the secret name wrap it
// in a DecryptError.
func (c *Cipher) Decrypt(encrypted, iv string) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("iv is %d bytes, want %d", len(nonce), c.aead.NonceSize())
	}

	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
