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

package agent

import (
	"bytes"
	"strconv"
	"strings"
	"sync"

	"github.com/eifl-dev/eifl/internal/server/lifecycle"
)

// metricPrefix marks stdout lines that carry a metric emission.
const metricPrefix = "::metric::"

// streamChunkSize is the buffered output size that forces a flush. The
// flush ticker in the job runner handles slow producers.
const streamChunkSize = 8 * 1024

// streamer buffers step output and delivers it to the server in chunks.
// It is safe for concurrent writers; exec copies stdout and stderr on
// separate goroutines.
type streamer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	send func(chunk string)
}

// newStreamer creates a streamer that delivers chunks through send.
func newStreamer(send func(chunk string)) *streamer {
	return &streamer{send: send}
}

// Write buffers p and flushes when the buffer passes the chunk size.
func (s *streamer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	if s.buf.Len() >= streamChunkSize {
		s.flushLocked()
	}
	return len(p), nil
}

// Flush delivers any buffered output immediately.
func (s *streamer) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *streamer) flushLocked() {
	if s.buf.Len() == 0 {
		return
	}
	chunk := s.buf.String()
	s.buf.Reset()
	s.send(chunk)
}

// metricScanner tees stdout to the wrapped writer while scanning complete
// lines for ::metric:: emissions. Only stdout is scanned; stderr bypasses
// the scanner so diagnostics cannot forge measurements.
type metricScanner struct {
	w       *streamer
	line    bytes.Buffer
	metrics []lifecycle.MetricInput
}

func newMetricScanner(w *streamer) *metricScanner {
	return &metricScanner{w: w}
}

// Write forwards p and accumulates it into lines for metric parsing.
func (m *metricScanner) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			m.scanLine(m.line.String())
			m.line.Reset()
			continue
		}
		m.line.WriteByte(b)
	}
	return m.w.Write(p)
}

// Close scans a trailing unterminated line.
func (m *metricScanner) Close() {
	if m.line.Len() > 0 {
		m.scanLine(m.line.String())
		m.line.Reset()
	}
}

// Metrics returns the emissions collected so far, in stdout order.
func (m *metricScanner) Metrics() []lifecycle.MetricInput {
	return m.metrics
}

func (m *metricScanner) scanLine(line string) {
	metric, ok := parseMetricLine(line)
	if !ok {
		return
	}
	m.metrics = append(m.metrics, metric)
}

// parseMetricLine parses one "::metric::<key>=<numeric>[:<unit>]" line.
// Lines that carry the prefix but fail to parse are ignored rather than
// failing the step.
func parseMetricLine(line string) (lifecycle.MetricInput, bool) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, metricPrefix)
	if !ok {
		return lifecycle.MetricInput{}, false
	}

	key, valueStr, ok := strings.Cut(rest, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return lifecycle.MetricInput{}, false
	}

	valueStr, unit, _ := strings.Cut(valueStr, ":")
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return lifecycle.MetricInput{}, false
	}

	return lifecycle.MetricInput{
		Key:   key,
		Value: value,
		Unit:  strings.TrimSpace(unit),
	}, true
}
