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

// Package metrics exposes the server's Prometheus instrumentation.
// Counters and histograms are registered once at init via promauto and
// incremented through small helpers so call sites stay one-liners.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// runsCreated tracks run creation by trigger source.
	runsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_runs_created_total",
			Help: "Total runs created by trigger source",
		},
		[]string{"trigger"},
	)

	// runsCompleted tracks terminal run transitions by final status.
	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_runs_completed_total",
			Help: "Total runs reaching a terminal status",
		},
		[]string{"status"},
	)

	// schedulerTicks counts scheduler wakeups.
	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eifl_scheduler_ticks_total",
			Help: "Total scheduler ticks executed",
		},
	)

	// schedulerTickDuration observes the wall time of a full tick.
	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eifl_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: prometheus.DefBuckets,
		},
	)

	// schedulerSkips counts due pipelines skipped without a run, by reason.
	schedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_scheduler_skips_total",
			Help: "Due pipelines skipped by the scheduler, by reason",
		},
		[]string{"reason"},
	)

	// dispatchPolls counts runner polls by outcome.
	dispatchPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_dispatch_polls_total",
			Help: "Total runner polls by outcome",
		},
		[]string{"outcome"},
	)

	// dispatchRaces counts reservations lost to a concurrent poll.
	dispatchRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eifl_dispatch_reservation_races_total",
			Help: "Reservations that lost the conditional update race",
		},
	)

	// stepOutputBytes counts streamed step output volume.
	stepOutputBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eifl_step_output_bytes_total",
			Help: "Total step output bytes appended",
		},
	)

	// webhookDeliveries counts GitHub webhook deliveries by result.
	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_webhook_deliveries_total",
			Help: "GitHub webhook deliveries by result",
		},
		[]string{"result"},
	)

	// hookDeliveries counts post-receive hook deliveries by result.
	hookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_hook_deliveries_total",
			Help: "Post-receive hook deliveries by result",
		},
		[]string{"result"},
	)

	// baselineRegressions counts failed baseline comparisons.
	baselineRegressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eifl_baseline_regressions_total",
			Help: "Metric values outside their baseline tolerance",
		},
	)

	// secretDecryptFailures counts secrets dropped from job payloads.
	secretDecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eifl_secret_decrypt_failures_total",
			Help: "Secrets skipped at dispatch because decryption failed",
		},
	)

	// githubStatusPosts counts commit-status posts by result.
	githubStatusPosts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eifl_github_status_posts_total",
			Help: "GitHub commit status posts by result",
		},
		[]string{"result"},
	)
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunCreated increments the run-creation counter.
func RecordRunCreated(trigger string) {
	runsCreated.WithLabelValues(trigger).Inc()
}

// RecordRunCompleted increments the terminal-transition counter.
func RecordRunCompleted(status string) {
	runsCompleted.WithLabelValues(status).Inc()
}

// RecordSchedulerTick observes one tick and its duration in seconds.
func RecordSchedulerTick(seconds float64) {
	schedulerTicks.Inc()
	schedulerTickDuration.Observe(seconds)
}

// RecordSchedulerSkip increments the skip counter for a reason such as
// "active_run", "invalid_manifest", "invalid_cron", or "no_head".
func RecordSchedulerSkip(reason string) {
	schedulerSkips.WithLabelValues(reason).Inc()
}

// RecordDispatchPoll increments the poll counter for "job", "no_job", or
// "at_capacity".
func RecordDispatchPoll(outcome string) {
	dispatchPolls.WithLabelValues(outcome).Inc()
}

// RecordDispatchRace increments the lost-reservation counter.
func RecordDispatchRace() {
	dispatchRaces.Inc()
}

// RecordStepOutput adds the size of an appended output chunk.
func RecordStepOutput(bytes int) {
	stepOutputBytes.Add(float64(bytes))
}

// RecordWebhookDelivery increments the webhook counter for "ok",
// "ignored", "unmatched", or "error".
func RecordWebhookDelivery(result string) {
	webhookDeliveries.WithLabelValues(result).Inc()
}

// RecordHookDelivery increments the hook-ingress counter for "accepted",
// "unauthorized", or "invalid".
func RecordHookDelivery(result string) {
	hookDeliveries.WithLabelValues(result).Inc()
}

// RecordBaselineRegression increments the regression counter.
func RecordBaselineRegression() {
	baselineRegressions.Inc()
}

// RecordSecretDecryptFailure increments the dropped-secret counter.
func RecordSecretDecryptFailure() {
	secretDecryptFailures.Inc()
}

// RecordGithubStatusPost increments the status-post counter for "ok" or
// "error".
func RecordGithubStatusPost(result string) {
	githubStatusPosts.WithLabelValues(result).Inc()
}
