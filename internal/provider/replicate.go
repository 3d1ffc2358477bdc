package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReplicateOptions configures the Replicate adapter.
type ReplicateOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallbackURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// ReplicateAdapter talks to the Replicate predictions API. Replicate uses
// flat payloads: a status word at the top level and the result in an output
// array (or bare string for single-image models).
type ReplicateAdapter struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	model       string
	callbackURL string
}

func NewReplicateAdapter(opts ReplicateOptions) *ReplicateAdapter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "cuuupid/idm-vton"
	}
	return &ReplicateAdapter{
		httpClient:  client,
		baseURL:     base,
		token:       strings.TrimSpace(opts.APIKey),
		model:       model,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
	}
}

func (a *ReplicateAdapter) Name() string { return "replicate" }

type replicateCreateRequest struct {
	Input               map[string]string `json:"input"`
	Webhook             string            `json:"webhook,omitempty"`
	WebhookEventsFilter []string          `json:"webhook_events_filter,omitempty"`
}

type replicatePrediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
	Logs   string `json:"logs,omitempty"`
}

// Submit creates a prediction against the configured model, registering the
// webhook for completion events.
func (a *ReplicateAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if a.token == "" {
		return "", errors.New("replicate: API key is missing")
	}
	if req.InputImageURL == "" {
		return "", errors.New("replicate: input image url required")
	}
	input := map[string]string{
		"human_img": req.InputImageURL,
	}
	if req.GarmentImageURL != "" {
		input["garm_img"] = req.GarmentImageURL
	}
	if req.Prompt != "" {
		input["garment_des"] = req.Prompt
	}
	payload := replicateCreateRequest{Input: input}
	if a.callbackURL != "" {
		payload.Webhook = a.callbackURL
		payload.WebhookEventsFilter = []string{"completed"}
	}
	var pred replicatePrediction
	path := "/models/" + a.model + "/predictions"
	if err := a.do(ctx, http.MethodPost, path, payload, &pred); err != nil {
		return "", err
	}
	if strings.TrimSpace(pred.ID) == "" {
		return "", errors.New("replicate: response missing prediction id")
	}
	return pred.ID, nil
}

// PollStatus fetches the current prediction record.
func (a *ReplicateAdapter) PollStatus(ctx context.Context, taskID string) (*Event, error) {
	if a.token == "" {
		return nil, errors.New("replicate: API key is missing")
	}
	var pred replicatePrediction
	if err := a.do(ctx, http.MethodGet, "/predictions/"+taskID, nil, &pred); err != nil {
		return nil, err
	}
	return replicateEvent(&pred)
}

// ParseWebhook decodes a Replicate webhook delivery, which carries the same
// shape as the prediction record.
func (a *ReplicateAdapter) ParseWebhook(body []byte) (*Event, error) {
	var pred replicatePrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("replicate: decode webhook: %w", err)
	}
	ev, err := replicateEvent(&pred)
	if err != nil {
		return nil, err
	}
	ev.Raw = body
	return ev, nil
}

func replicateEvent(pred *replicatePrediction) (*Event, error) {
	if strings.TrimSpace(pred.ID) == "" {
		return nil, errors.New("replicate: payload missing prediction id")
	}
	ev := &Event{
		TaskID: pred.ID,
		Status: NormalizeStatus(pred.Status),
	}
	if pred.Error != nil {
		ev.ErrorMessage = fmt.Sprintf("%v", pred.Error)
	}
	if ev.Status == StatusCompleted {
		ev.ResultURL = outputURL(pred.Output)
	}
	if ev.Status == StatusFailed && ev.ErrorMessage == "" {
		ev.ErrorMessage = "replicate prediction failed"
	}
	return ev, nil
}

func (a *ReplicateAdapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("replicate: http %d", resp.StatusCode)
		}
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("replicate: http %d", resp.StatusCode)
	}
	return nil
}

var _ Adapter = (*ReplicateAdapter)(nil)
