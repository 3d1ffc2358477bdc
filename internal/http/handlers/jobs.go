package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/metrics"
	"server/internal/provider"
)

// jobCost is the flat credit price of one transformation job.
const jobCost = 1

type submitJobRequest struct {
	InputImageURL   string `json:"input_image_url"`
	GarmentImageURL string `json:"garment_image_url"`
	Prompt          string `json:"prompt"`
}

// TryOnSubmit enqueues a virtual try-on job. Both the person and the garment
// image are required.
func (a *App) TryOnSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSubmit(w, r)
	if !ok {
		return
	}
	if req.InputImageURL == "" || req.GarmentImageURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "input_image_url and garment_image_url are required")
		return
	}
	a.submitAsync(w, r, domain.JobTypeVirtualTryOn, req)
}

// ModelSwapSubmit enqueues a model swap job.
func (a *App) ModelSwapSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSubmit(w, r)
	if !ok {
		return
	}
	if req.InputImageURL == "" || req.GarmentImageURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "input_image_url and garment_image_url are required")
		return
	}
	a.submitAsync(w, r, domain.JobTypeModelSwap, req)
}

// ProductMarketingSubmit enqueues a product marketing shot.
func (a *App) ProductMarketingSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSubmit(w, r)
	if !ok {
		return
	}
	if req.InputImageURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "input_image_url is required")
		return
	}
	a.submitAsync(w, r, domain.JobTypeProductMarketing, req)
}

func (a *App) decodeSubmit(w http.ResponseWriter, r *http.Request) (submitJobRequest, bool) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return req, false
	}
	return req, true
}

func (a *App) submitAsync(w http.ResponseWriter, r *http.Request, jobType domain.JobType, req submitJobRequest) {
	userID := a.currentUserID(r)
	ctx := r.Context()

	if !a.debitForJob(ctx, w, userID, jobType) {
		return
	}

	job := &domain.Job{
		ID:              uuid.NewString(),
		UserID:          userID,
		Type:            jobType,
		Status:          domain.JobStatusProcessing,
		InputImageURL:   req.InputImageURL,
		GarmentImageURL: req.GarmentImageURL,
		RetryState:      domain.RetryStateFresh,
	}
	if err := a.Jobs.Create(ctx, job); err != nil {
		a.Logger.Error().Err(err).Msg("create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	adapter, ok := a.Registry.ForJobType(jobType)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "no provider configured for job type")
		return
	}

	taskID, err := adapter.Submit(ctx, provider.SubmitRequest{
		JobID:           job.ID,
		JobType:         jobType,
		Prompt:          req.Prompt,
		InputImageURL:   req.InputImageURL,
		GarmentImageURL: req.GarmentImageURL,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Str("provider", adapter.Name()).Msg("provider submit failed")
		if failErr := a.Jobs.Fail(ctx, job.ID, "", err.Error()); failErr != nil {
			a.Logger.Error().Err(failErr).Str("job_id", job.ID).Msg("mark job failed after submit error")
		}
		a.error(w, http.StatusBadGateway, "provider_error", "provider submission failed")
		return
	}
	if err := a.Jobs.SetSubmitted(ctx, job.ID, adapter.Name(), taskID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("record task id failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to record submission")
		return
	}

	metrics.JobsSubmitted.WithLabelValues(string(jobType), adapter.Name()).Inc()
	a.json(w, http.StatusAccepted, map[string]any{
		"id":     job.ID,
		"taskId": taskID,
		"status": string(domain.JobStatusProcessing),
	})
}

// PhotoEditSubmit runs the synchronous edit flow: the provider returns the
// edited image in the same call, so the job completes before the response is
// written and never enters the webhook lifecycle.
func (a *App) PhotoEditSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSubmit(w, r)
	if !ok {
		return
	}
	if req.InputImageURL == "" || req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "input_image_url and prompt are required")
		return
	}
	userID := a.currentUserID(r)
	ctx := r.Context()

	if !a.debitForJob(ctx, w, userID, domain.JobTypePhotoEdit) {
		return
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          domain.JobTypePhotoEdit,
		Status:        domain.JobStatusProcessing,
		Provider:      "gemini",
		TaskID:        uuid.NewString(),
		InputImageURL: req.InputImageURL,
		RetryState:    domain.RetryStateFresh,
	}
	if err := a.Jobs.Create(ctx, job); err != nil {
		a.Logger.Error().Err(err).Msg("create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	metrics.JobsSubmitted.WithLabelValues(string(domain.JobTypePhotoEdit), "gemini").Inc()

	result, err := a.Editor.Edit(ctx, provider.EditRequest{
		Prompt:        req.Prompt,
		InputImageURL: req.InputImageURL,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("gemini edit failed")
		if failErr := a.Jobs.Fail(ctx, job.ID, job.TaskID, err.Error()); failErr != nil {
			a.Logger.Error().Err(failErr).Str("job_id", job.ID).Msg("mark job failed after edit error")
		}
		metrics.JobsFinished.WithLabelValues("gemini", string(domain.JobStatusFailed)).Inc()
		a.error(w, http.StatusBadGateway, "provider_error", "photo edit failed")
		return
	}

	resultURL, err := a.Materializer.Store(ctx, result.ImageData, result.MIME, userID, job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("store edited image failed")
		if failErr := a.Jobs.Fail(ctx, job.ID, job.TaskID, "failed to store edited image"); failErr != nil {
			a.Logger.Error().Err(failErr).Str("job_id", job.ID).Msg("mark job failed after store error")
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to store result")
		return
	}
	if err := a.Jobs.Complete(ctx, job.ID, job.TaskID, resultURL, result.Analysis, nil); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("complete job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to finalize job")
		return
	}
	metrics.JobsFinished.WithLabelValues("gemini", string(domain.JobStatusCompleted)).Inc()

	a.json(w, http.StatusOK, map[string]any{
		"id":       job.ID,
		"status":   string(domain.JobStatusCompleted),
		"result":   resultURL,
		"analysis": result.Analysis,
	})
}

// debitForJob charges the flat job cost, provisioning the welcome bonus on
// first contact. Reports whether the handler may proceed.
func (a *App) debitForJob(ctx context.Context, w http.ResponseWriter, userID string, jobType domain.JobType) bool {
	err := a.Credits.Debit(ctx, userID, jobCost, string(jobType)+" job", "")
	if errors.Is(err, domain.ErrNotInitialized) {
		if _, initErr := a.Credits.Initialize(ctx, userID); initErr != nil {
			a.Logger.Error().Err(initErr).Str("user_id", userID).Msg("initialize credits failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to initialize credits")
			return false
		}
		err = a.Credits.Debit(ctx, userID, jobCost, string(jobType)+" job", "")
	}
	if errors.Is(err, domain.ErrInsufficientCredits) {
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
		return false
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("debit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to debit credits")
		return false
	}
	return true
}

// JobStatus reports the normalized status for a task id. The synthetic ids
// "test" and "health" short-circuit so monitoring probes never hit the
// database.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "test" || taskID == "health" {
		a.json(w, http.StatusOK, map[string]any{"id": taskID, "status": string(domain.JobStatusCompleted)})
		return
	}

	job, err := a.Jobs.GetByTaskID(r.Context(), taskID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "unknown task")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.UserID != a.currentUserID(r) {
		a.error(w, http.StatusNotFound, "not_found", "unknown task")
		return
	}

	a.json(w, http.StatusOK, jobStatusDTO(job))
}

// JobsList returns the user's jobs, newest first.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Jobs.ListByUser(r.Context(), a.currentUserID(r), 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobStatusDTO(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// JobsDelete removes one of the user's own jobs.
func (a *App) JobsDelete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := a.Jobs.Delete(r.Context(), jobID, a.currentUserID(r))
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("delete job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

func jobStatusDTO(job *domain.Job) map[string]any {
	out := map[string]any{
		"id":         job.ID,
		"type":       string(job.Type),
		"status":     string(job.Status),
		"created_at": job.CreatedAt,
	}
	if job.TaskID != "" {
		out["taskId"] = job.TaskID
	}
	if job.ResultURL != "" {
		out["result"] = job.ResultURL
	}
	if job.Analysis != "" {
		out["analysis"] = job.Analysis
	}
	if job.ErrorMessage != "" {
		out["error"] = job.ErrorMessage
	}
	return out
}
