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

package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eifl-dev/eifl/internal/log"
	"github.com/eifl-dev/eifl/internal/server/backend"
	"github.com/eifl-dev/eifl/internal/server/metrics"
	"github.com/eifl-dev/eifl/internal/server/trigger"
	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// Handler turns verified GitHub push deliveries into runs.
type Handler struct {
	store   backend.Store
	trigger *trigger.Service
	secret  string
	logger  *slog.Logger
}

// New creates a webhook handler. An empty secret disables the ingress:
// every delivery is rejected Unauthorized.
func New(store backend.Store, trig *trigger.Service, secret string, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		trigger: trig,
		secret:  secret,
		logger:  log.WithComponent(logger, "webhook"),
	}
}

// Handle processes one delivery: verify the signature, parse the push,
// find the registered repo, and materialize runs from its stored pipeline
// configs. Non-push events, branch deletions, and tag pushes return no
// runs and no error.
func (h *Handler) Handle(ctx context.Context, r *http.Request, body []byte) ([]*backend.Run, error) {
	if h.secret == "" {
		metrics.RecordWebhookDelivery("error")
		return nil, &eiflerrors.UnauthorizedError{Reason: "github webhook is not configured"}
	}
	if err := VerifySignature(r, body, h.secret); err != nil {
		metrics.RecordWebhookDelivery("error")
		return nil, &eiflerrors.UnauthorizedError{Reason: err.Error()}
	}

	event := Event(r)
	if event != "push" {
		// Ping arrives when the webhook is first configured; anything
		// else means the hook subscribes to more events than we consume.
		metrics.RecordWebhookDelivery("ignored")
		h.logger.Debug("ignoring webhook event", "event", event)
		return nil, nil
	}

	push, err := ParsePush(body)
	if err != nil {
		metrics.RecordWebhookDelivery("error")
		return nil, &eiflerrors.ValidationError{Field: "body", Message: err.Error()}
	}

	branch, ok := push.Branch()
	if !ok || push.Deleted {
		metrics.RecordWebhookDelivery("ignored")
		h.logger.Debug("ignoring push without branch tip",
			"ref", push.Ref,
			"deleted", push.Deleted)
		return nil, nil
	}

	repo, err := h.findRepo(ctx, push)
	if err != nil {
		return nil, err
	}

	runs, err := h.trigger.HandleRemotePush(ctx, repo, branch, push.After, backend.TriggerGithubPush)
	if err != nil {
		metrics.RecordWebhookDelivery("error")
		return nil, err
	}

	metrics.RecordWebhookDelivery("ok")
	h.logger.Info("github push processed",
		log.RepoKey, repo.ID,
		"branch", branch,
		"commit", push.After,
		"runs", len(runs))
	return runs, nil
}

// findRepo resolves the pushed repository against registered remotes,
// trying each URL spelling GitHub reports.
func (h *Handler) findRepo(ctx context.Context, push *PushEvent) (*backend.Repo, error) {
	for _, url := range push.RemoteCandidates() {
		repo, err := h.store.GetRepoByRemoteURL(ctx, url)
		if err == nil {
			return repo, nil
		}
		var notFound *eiflerrors.NotFoundError
		if !errors.As(err, &notFound) {
			metrics.RecordWebhookDelivery("error")
			return nil, err
		}
	}

	metrics.RecordWebhookDelivery("unmatched")
	h.logger.Warn("push for unregistered repo", "repo", push.Repository.FullName)
	return nil, &eiflerrors.NotFoundError{Resource: "repo", ID: push.Repository.FullName}
}

// Configured reports whether deliveries can be verified.
func (h *Handler) Configured() bool {
	return h.secret != ""
}
