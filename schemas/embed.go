// Package schemas provides access to embedded JSON schemas.
package schemas

import (
	_ "embed"
)

// The manifest schema ships inside the binary so the server can serve it
// and the CLI can validate .eifl.json files offline.
//
//go:embed manifest.schema.json
var manifestSchema []byte

// ManifestSchema returns the embedded .eifl.json JSON Schema as raw bytes.
func ManifestSchema() []byte {
	return manifestSchema
}
