package examples

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/eifl-dev/eifl/internal/manifest"
)

// Embed example manifests into the binary for offline availability
//
//go:embed *.eifl.json
var embeddedFS embed.FS

const suffix = ".eifl.json"

// Example represents metadata about an embedded example manifest
type Example struct {
	Name        string
	Description string
	FilePath    string
}

// List returns all available embedded examples, sorted by name
func List() ([]Example, error) {
	entries, err := embeddedFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded examples: %w", err)
	}

	var examples []Example
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), suffix)
		examples = append(examples, Example{
			Name:        name,
			Description: getDescription(name),
			FilePath:    entry.Name(),
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Name < examples[j].Name })
	return examples, nil
}

// Get returns the content of a specific example by name
func Get(name string) ([]byte, error) {
	content, err := embeddedFS.ReadFile(name + suffix)
	if err != nil {
		return nil, fmt.Errorf("example %q not found: %w", name, err)
	}
	return content, nil
}

// Exists checks if an example with the given name exists
func Exists(name string) bool {
	_, err := embeddedFS.ReadFile(name + suffix)
	return err == nil
}

// Parse returns the example decoded through the manifest validator, so a
// shipped example that stops validating fails tests instead of users.
func Parse(name string) (*manifest.Config, error) {
	data, err := Get(name)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// getDescription returns a human-readable description for each example
func getDescription(name string) string {
	descriptions := map[string]string{
		"go-service":    "Test, build, and package a Go service; tracks binary size on main",
		"nightly-bench": "Scheduled benchmark run that reports ns/op as a metric",
	}

	if desc, ok := descriptions[name]; ok {
		return desc
	}
	return "Example pipeline manifest"
}
