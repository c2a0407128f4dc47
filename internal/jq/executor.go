// Package jq evaluates jq filter expressions against JSON-shaped data.
// The CLI uses it to implement the --jq output flag without shelling out
// to an external jq binary.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single filter evaluation. API responses are
	// small; a filter still running after this is almost certainly a
	// runaway program like an unbounded recurse.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest JSON document a filter accepts.
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq filters with a timeout and an input size cap.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates an executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Execute runs a filter against data. An empty filter returns data
// unchanged. A filter producing one value returns that value; multiple
// values come back as an array, none as nil.
func (e *Executor) Execute(ctx context.Context, filter string, data any) (any, error) {
	if filter == "" {
		return data, nil
	}

	if err := e.checkInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	// gojq iteration has no context hook, so the query runs in its own
	// goroutine and the timeout abandons it.
	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		iter := code.Run(data)

		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}

		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("jq filter timed out after %v", e.timeout)
	}
}

// Validate compiles a filter without running it, so bad expressions fail
// before any API call is made.
func (e *Executor) Validate(filter string) error {
	if filter == "" {
		return nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("invalid jq filter: %w", err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("jq compilation failed: %w", err)
	}
	return nil
}

func (e *Executor) checkInputSize(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if int64(len(jsonData)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}
	return nil
}
