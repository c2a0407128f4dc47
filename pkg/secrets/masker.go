// Package secrets masks sensitive values in text bound for logs or
// persisted step output. The runner agent builds a masker from each job's
// decrypted secrets so their values never leave the machine in clear text.
package secrets

import (
	"sort"
	"strings"
)

// Mask is the replacement written over every detected secret value.
const Mask = "***"

// minLength keeps trivially short values from shredding ordinary output;
// masking a one-character secret would replace every occurrence of that
// character.
const minLength = 4

// Masker replaces known secret values in strings. The zero value masks
// nothing.
type Masker struct {
	values []string
}

// NewMasker creates a masker for the given name-to-value secret map.
// Names are ignored; only values are matched. Values shorter than four
// characters are skipped.
func NewMasker(secrets map[string]string) *Masker {
	m := &Masker{}
	for _, value := range secrets {
		m.Add(value)
	}
	return m
}

// Add registers one more value to mask.
func (m *Masker) Add(value string) {
	if len(value) < minLength {
		return
	}
	m.values = append(m.values, value)
	// Longest first, so a value that contains another is replaced whole
	// instead of leaving its tail behind.
	sort.Slice(m.values, func(i, j int) bool {
		return len(m.values[i]) > len(m.values[j])
	})
}

// Empty reports whether the masker has no values to match.
func (m *Masker) Empty() bool {
	return len(m.values) == 0
}

// MaskString replaces every registered value in s.
func (m *Masker) MaskString(s string) string {
	for _, value := range m.values {
		if strings.Contains(s, value) {
			s = strings.ReplaceAll(s, value, Mask)
		}
	}
	return s
}
