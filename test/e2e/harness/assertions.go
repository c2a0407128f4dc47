package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eifl-dev/eifl/internal/client"
	"github.com/eifl-dev/eifl/internal/server/backend"
)

// StepByName returns the run's step with the given name, failing the test
// when it is absent.
func (h *Harness) StepByName(t *testing.T, detail *client.RunDetail, name string) *backend.Step {
	t.Helper()

	for _, step := range detail.Steps {
		if step.Name == name {
			return step
		}
	}
	t.Fatalf("run %s has no step named %q", detail.Run.ID, name)
	return nil
}

// AssertStepStatus fails unless the named step reached the wanted status.
func (h *Harness) AssertStepStatus(t *testing.T, detail *client.RunDetail, name string, want backend.StepStatus) {
	t.Helper()

	step := h.StepByName(t, detail, name)
	assert.Equal(t, want, step.Status, "step %q", name)
}

// AssertStepOutputContains fetches the step's streamed output and fails
// unless it contains want.
func (h *Harness) AssertStepOutputContains(t *testing.T, stepID, want string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	output, err := h.Client.StepOutput(ctx, stepID)
	if err != nil {
		t.Fatalf("fetch output of step %s: %v", stepID, err)
	}
	assert.Contains(t, output, want)
	return output
}

// RequireMetric returns the metric with the given key, failing the test
// when it is absent.
func (h *Harness) RequireMetric(t *testing.T, metrics []*backend.Metric, key string) *backend.Metric {
	t.Helper()

	for _, m := range metrics {
		if m.Key == key {
			return m
		}
	}
	keys := make([]string, 0, len(metrics))
	for _, m := range metrics {
		keys = append(keys, m.Key)
	}
	t.Fatalf("metric %q not recorded, have %v", key, keys)
	return nil
}
