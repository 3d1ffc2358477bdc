package handlers

import (
	"errors"
	"io"
	"net/http"

	"server/internal/domain"
	"server/internal/metrics"
	"server/internal/reconcile"
)

// maxWebhookBytes bounds provider callback bodies.
const maxWebhookBytes = 1 << 20

// ProviderWebhook receives an AI provider callback and folds it into the job
// record. The provider name in the route selects the adapter that decodes the
// payload; everything after decoding is shared reconciliation.
func (a *App) ProviderWebhook(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Cfg.WebhookToken != "" && r.Header.Get("X-Webhook-Token") != a.Cfg.WebhookToken {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
			return
		}

		adapter, ok := a.Registry.ByName(providerName)
		if !ok {
			a.error(w, http.StatusNotFound, "not_found", "unknown provider")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil || len(body) == 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "empty body")
			return
		}

		ev, err := adapter.ParseWebhook(body)
		if err != nil || ev.TaskID == "" {
			a.Logger.Warn().Err(err).Str("provider", providerName).Msg("unattributable webhook payload")
			a.error(w, http.StatusBadRequest, "bad_request", "payload has no recoverable task id")
			return
		}
		metrics.WebhooksReceived.WithLabelValues(providerName, string(ev.Status)).Inc()

		job, err := a.Jobs.GetByTaskID(r.Context(), ev.TaskID)
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no job tracks this task")
			return
		}
		if err != nil {
			a.Logger.Error().Err(err).Str("task_id", ev.TaskID).Msg("load job for webhook failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
			return
		}

		outcome, err := a.Reconciler.Apply(r.Context(), job, ev, reconcile.SourceWebhook)
		if err != nil {
			a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("webhook reconciliation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to apply event")
			return
		}

		a.json(w, http.StatusOK, map[string]any{
			"success": true,
			"jobId":   outcome.JobID,
			"status":  string(outcome.Status),
		})
	}
}
