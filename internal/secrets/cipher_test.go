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
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

const testPassphrase = "correct-horse-battery-staple-0123456789"

func TestNewCipherMissingKey(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, eiflerrors.ErrEncryptionNotConfigured)
}

func TestNewCipherShortKey(t *testing.T) {
	_, err := NewCipher("too-short")
	require.Error(t, err)

	var cfgErr *eiflerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "secrets.encryption_key", cfgErr.Key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	values := []string{
		"hunter2",
		"",
		"value with spaces and\nnewlines",
		"ünïcödé ✓ 秘密",
		strings.Repeat("x", 64*1024),
	}

	for _, v := range values {
		encrypted, iv, err := c.Encrypt(v)
		require.NoError(t, err)
		assert.NotEqual(t, v, encrypted)

		decrypted, err := c.Decrypt(encrypted, iv)
		require.NoError(t, err)
		assert.Equal(t, v, decrypted)
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	c, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	enc1, iv1, err := c.Encrypt("same value")
	require.NoError(t, err)
	enc2, iv2, err := c.Encrypt("same value")
	require.NoError(t, err)

	assert.NotEqual(t, enc1, enc2, "fresh IV must change the ciphertext")
	assert.NotEqual(t, iv1, iv2)
}

func TestDerivationIsDeterministic(t *testing.T) {
	c1, err := NewCipher(testPassphrase)
	require.NoError(t, err)
	c2, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	encrypted, iv, err := c1.Encrypt("portable")
	require.NoError(t, err)

	decrypted, err := c2.Decrypt(encrypted, iv)
	require.NoError(t, err)
	assert.Equal(t, "portable", decrypted)
}

func TestDecryptWrongKey(t *testing.T) {
	c1, err := NewCipher(testPassphrase)
	require.NoError(t, err)
	c2, err := NewCipher("a-different-passphrase-0123456789abcdef")
	require.NoError(t, err)

	encrypted, iv, err := c1.Encrypt("locked")
	require.NoError(t, err)

	_, err = c2.Decrypt(encrypted, iv)
	assert.Error(t, err)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	c, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	encrypted, iv, err := c.Encrypt("integrity matters")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	raw[0] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered, iv)
	assert.Error(t, err, "auth tag must reject a flipped byte")
}

func TestDecryptBadIV(t *testing.T) {
	c, err := NewCipher(testPassphrase)
	require.NoError(t, err)

	encrypted, _, err := c.Encrypt("value")
	require.NoError(t, err)

	_, err = c.Decrypt(encrypted, "not base64!!!")
	assert.Error(t, err)

	shortIV := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, err = c.Decrypt(encrypted, shortIV)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, eiflerrors.ErrEncryptionNotConfigured))
}
