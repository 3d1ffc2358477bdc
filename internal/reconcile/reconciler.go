// Package reconcile drives job state from provider events. Webhook
// deliveries and status polls funnel into the same Apply function, so both
// trigger sources share one set of semantics. All coordination happens
// through the job store's conditional writes; the reconciler itself holds no
// mutable state and is safe for concurrent use.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/materialize"
	"server/internal/metrics"
	"server/internal/provider"
)

// Source identifies what triggered a reconciliation attempt.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Outcome reports the job state after an event was applied.
type Outcome struct {
	JobID          string
	Status         domain.JobStatus
	ResultURL      string
	ErrorMessage   string
	FallbackTaskID string
}

// Reconciler applies canonical provider events to job records.
type Reconciler struct {
	jobs         domain.JobRepository
	registry     *provider.Registry
	materializer *materialize.Materializer
	logger       zerolog.Logger
}

func New(jobs domain.JobRepository, registry *provider.Registry, materializer *materialize.Materializer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{jobs: jobs, registry: registry, materializer: materializer, logger: logger}
}

// Apply folds one event into the job. It is idempotent under replayed
// deliveries and commutes under webhook/poll races: duplicate completions
// re-apply the same result, and duplicate failures never trigger a second
// fallback because the retry-state transition is conditional in the store.
func (r *Reconciler) Apply(ctx context.Context, job *domain.Job, ev *provider.Event, src Source) (*Outcome, error) {
	if job.TaskID != "" && ev.TaskID != "" && ev.TaskID != job.TaskID {
		// Stale delivery for a task id this job no longer tracks (superseded
		// by a fallback). Nothing to do.
		r.logger.Info().
			Str("job_id", job.ID).
			Str("event_task_id", ev.TaskID).
			Str("current_task_id", job.TaskID).
			Msg("reconcile: ignoring event for superseded task")
		return r.currentOutcome(job), nil
	}

	switch ev.Status {
	case provider.StatusCompleted:
		return r.applyCompleted(ctx, job, ev)
	case provider.StatusFailed:
		return r.applyFailed(ctx, job, ev)
	default:
		return r.applyProgress(ctx, job, ev, src)
	}
}

func (r *Reconciler) applyCompleted(ctx context.Context, job *domain.Job, ev *provider.Event) (*Outcome, error) {
	if job.Status == domain.JobStatusCompleted {
		// Replayed completion; re-applying the same result is harmless, so
		// skipping it entirely is too.
		return r.currentOutcome(job), nil
	}

	resultURL := ev.ResultURL
	if resultURL == "" && len(ev.Raw) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(ev.Raw, &payload); err == nil {
			resultURL = provider.ExtractResultURL(payload)
		}
	}
	if resultURL == "" {
		// A completion without a result is a failure in disguise.
		failed := *ev
		failed.Status = provider.StatusFailed
		failed.ErrorMessage = "provider reported completion but no result url was found in the payload"
		return r.applyFailed(ctx, job, &failed)
	}

	durableURL := r.materializer.Materialize(ctx, resultURL, job.UserID, job.ID)

	err := r.jobs.Complete(ctx, job.ID, ev.TaskID, durableURL, ev.Analysis, providerSnapshot(ev.Raw))
	if errors.Is(err, domain.ErrStaleUpdate) {
		// Lost a race against a concurrent delivery. The winner may have
		// completed or failed the job, so report whatever actually landed.
		current, getErr := r.jobs.GetByID(ctx, job.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reconcile: reload job %s after stale completion: %w", job.ID, getErr)
		}
		r.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(current.Status)).
			Msg("reconcile: completion lost race, reporting settled state")
		return r.currentOutcome(current), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: complete job %s: %w", job.ID, err)
	}

	metrics.JobsFinished.WithLabelValues(job.Provider, string(domain.JobStatusCompleted)).Inc()
	r.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", ev.TaskID).
		Str("result_url", durableURL).
		Msg("job completed")
	return &Outcome{JobID: job.ID, Status: domain.JobStatusCompleted, ResultURL: durableURL}, nil
}

func (r *Reconciler) applyFailed(ctx context.Context, job *domain.Job, ev *provider.Event) (*Outcome, error) {
	if job.Terminal() {
		// Replayed failure after the job already resolved.
		return r.currentOutcome(job), nil
	}

	if job.FallbackEligible() {
		if fb, ok := r.registry.Fallback(job.Type); ok {
			return r.attemptFallback(ctx, job, ev, fb)
		}
	}

	errMsg := ev.ErrorMessage
	if errMsg == "" {
		errMsg = "provider reported failure without details"
	}
	err := r.jobs.Fail(ctx, job.ID, ev.TaskID, errMsg)
	if errors.Is(err, domain.ErrStaleUpdate) {
		r.logger.Info().Str("job_id", job.ID).Msg("reconcile: failure already applied or superseded")
		return r.currentOutcome(job), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: fail job %s: %w", job.ID, err)
	}

	metrics.JobsFinished.WithLabelValues(job.Provider, string(domain.JobStatusFailed)).Inc()
	r.logger.Warn().
		Str("job_id", job.ID).
		Str("task_id", ev.TaskID).
		Str("error", errMsg).
		Msg("job failed")
	return &Outcome{JobID: job.ID, Status: domain.JobStatusFailed, ErrorMessage: errMsg}, nil
}

// attemptFallback resubmits the job to the alternate provider. The swap is
// committed with a conditional write on the fresh retry state, which is what
// bounds the system to at most one automatic retry per job: a concurrent or
// replayed failure finds the state already advanced and gives up here.
func (r *Reconciler) attemptFallback(ctx context.Context, job *domain.Job, ev *provider.Event, fb provider.Adapter) (*Outcome, error) {
	newTaskID, err := fb.Submit(ctx, provider.SubmitRequest{
		JobID:           job.ID,
		JobType:         job.Type,
		InputImageURL:   job.InputImageURL,
		GarmentImageURL: job.GarmentImageURL,
	})
	if err != nil {
		// The fallback submission itself failed; that is the job's final
		// failure. No second-level fallback.
		errMsg := fmt.Sprintf("provider failed (%s); fallback to %s also failed: %v", ev.ErrorMessage, fb.Name(), err)
		if failErr := r.jobs.Fail(ctx, job.ID, ev.TaskID, errMsg); failErr != nil && !errors.Is(failErr, domain.ErrStaleUpdate) {
			return nil, fmt.Errorf("reconcile: fail job %s after fallback error: %w", job.ID, failErr)
		}
		metrics.JobsFinished.WithLabelValues(job.Provider, string(domain.JobStatusFailed)).Inc()
		return &Outcome{JobID: job.ID, Status: domain.JobStatusFailed, ErrorMessage: errMsg}, nil
	}

	lineage := domain.FallbackLineage{
		OriginalTaskID:   ev.TaskID,
		FallbackProvider: fb.Name(),
		Reason:           ev.ErrorMessage,
	}
	meta, _ := json.Marshal(map[string]any{"fallback": lineage})

	err = r.jobs.RecordFallback(ctx, job.ID, ev.TaskID, newTaskID, fb.Name(), meta)
	if errors.Is(err, domain.ErrStaleUpdate) {
		// A concurrent delivery won the fallback race. The task submitted
		// above is orphaned on the provider side; it will never be tracked.
		r.logger.Warn().
			Str("job_id", job.ID).
			Str("orphaned_task_id", newTaskID).
			Msg("reconcile: fallback already recorded by concurrent event")
		return r.currentOutcome(job), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: record fallback for job %s: %w", job.ID, err)
	}

	metrics.Fallbacks.WithLabelValues(job.Provider, fb.Name()).Inc()
	r.logger.Info().
		Str("job_id", job.ID).
		Str("original_task_id", ev.TaskID).
		Str("fallback_task_id", newTaskID).
		Str("fallback_provider", fb.Name()).
		Msg("job resubmitted to fallback provider")
	return &Outcome{JobID: job.ID, Status: domain.JobStatusProcessing, FallbackTaskID: newTaskID}, nil
}

func (r *Reconciler) applyProgress(ctx context.Context, job *domain.Job, ev *provider.Event, src Source) (*Outcome, error) {
	if job.Terminal() {
		// A queued/starting notification after the job resolved carries no
		// information worth writing.
		return r.currentOutcome(job), nil
	}
	if len(ev.Raw) > 0 {
		if err := r.jobs.RefreshMetadata(ctx, job.ID, ev.TaskID, providerSnapshot(ev.Raw)); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
			return nil, fmt.Errorf("reconcile: refresh metadata for job %s: %w", job.ID, err)
		}
	}
	r.logger.Debug().
		Str("job_id", job.ID).
		Str("task_id", ev.TaskID).
		Str("source", string(src)).
		Msg("job still processing")
	return &Outcome{JobID: job.ID, Status: domain.JobStatusProcessing}, nil
}

// providerSnapshot nests the raw provider payload under its own metadata key.
// The store merges metadata key by key, so successive snapshots replace each
// other while keys owned by other writers, fallback lineage above all, stay
// untouched.
func providerSnapshot(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"provider": raw})
	if err != nil {
		return nil
	}
	return wrapped
}

func (r *Reconciler) currentOutcome(job *domain.Job) *Outcome {
	return &Outcome{
		JobID:        job.ID,
		Status:       job.Status,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
	}
}

// PollOnce refreshes a single in-flight job through its provider's status
// endpoint and applies the result with poll semantics. Terminal jobs
// short-circuit without a provider call.
func (r *Reconciler) PollOnce(ctx context.Context, job *domain.Job) (*Outcome, error) {
	if job.Terminal() {
		return r.currentOutcome(job), nil
	}
	if job.TaskID == "" {
		return nil, fmt.Errorf("reconcile: job %s has no task id to poll", job.ID)
	}
	adapter, ok := r.registry.ByName(job.Provider)
	if !ok {
		return nil, fmt.Errorf("reconcile: no adapter registered for provider %q", job.Provider)
	}
	ev, err := adapter.PollStatus(ctx, job.TaskID)
	if err != nil {
		// Transient poll errors leave the job processing; the webhook or the
		// next sweep will resolve it.
		return nil, fmt.Errorf("reconcile: poll %s task %s: %w", job.Provider, job.TaskID, err)
	}
	return r.Apply(ctx, job, ev, SourcePoll)
}

// SweepProcessing re-polls jobs stuck in processing longer than minAge.
// Returns how many jobs were examined.
func (r *Reconciler) SweepProcessing(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	jobs, err := r.jobs.ListProcessing(ctx, minAge, limit)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list processing jobs: %w", err)
	}
	for i := range jobs {
		job := jobs[i]
		if _, err := r.PollOnce(ctx, &job); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweep: poll failed")
		}
	}
	return len(jobs), nil
}
