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

// FashnOptions configures the Fashn adapter.
type FashnOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallbackURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// FashnAdapter talks to the Fashn try-on API. Fashn payloads are flat with a
// status word (starting/in_queue/processing/completed/failed), an output
// array, and an error that is either a string or a {name, message} object.
type FashnAdapter struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	model       string
	callbackURL string
}

func NewFashnAdapter(opts FashnOptions) *FashnAdapter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.fashn.ai/v1"
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
		model = "tryon-v1.6"
	}
	return &FashnAdapter{
		httpClient:  client,
		baseURL:     base,
		token:       strings.TrimSpace(opts.APIKey),
		model:       model,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
	}
}

func (a *FashnAdapter) Name() string { return "fashn" }

type fashnRunRequest struct {
	ModelName  string         `json:"model_name"`
	Inputs     fashnRunInputs `json:"inputs"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

type fashnRunInputs struct {
	ModelImage   string `json:"model_image"`
	GarmentImage string `json:"garment_image"`
}

type fashnPrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output []string        `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Submit starts a try-on run. Fashn requires both the person and garment
// images.
func (a *FashnAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if a.token == "" {
		return "", errors.New("fashn: API key is missing")
	}
	if req.InputImageURL == "" || req.GarmentImageURL == "" {
		return "", errors.New("fashn: model and garment image urls required")
	}
	payload := fashnRunRequest{
		ModelName: a.model,
		Inputs: fashnRunInputs{
			ModelImage:   req.InputImageURL,
			GarmentImage: req.GarmentImageURL,
		},
		WebhookURL: a.callbackURL,
	}
	var pred fashnPrediction
	if err := a.do(ctx, http.MethodPost, "/run", payload, &pred); err != nil {
		return "", err
	}
	if msg := fashnError(pred.Error); msg != "" {
		return "", fmt.Errorf("fashn error: %s", msg)
	}
	if strings.TrimSpace(pred.ID) == "" {
		return "", errors.New("fashn: response missing prediction id")
	}
	return pred.ID, nil
}

// PollStatus fetches the current prediction status.
func (a *FashnAdapter) PollStatus(ctx context.Context, taskID string) (*Event, error) {
	if a.token == "" {
		return nil, errors.New("fashn: API key is missing")
	}
	var pred fashnPrediction
	if err := a.do(ctx, http.MethodGet, "/status/"+taskID, nil, &pred); err != nil {
		return nil, err
	}
	return fashnEvent(&pred)
}

// ParseWebhook decodes a Fashn webhook delivery.
func (a *FashnAdapter) ParseWebhook(body []byte) (*Event, error) {
	var pred fashnPrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("fashn: decode webhook: %w", err)
	}
	ev, err := fashnEvent(&pred)
	if err != nil {
		return nil, err
	}
	ev.Raw = body
	return ev, nil
}

func fashnEvent(pred *fashnPrediction) (*Event, error) {
	if strings.TrimSpace(pred.ID) == "" {
		return nil, errors.New("fashn: payload missing prediction id")
	}
	ev := &Event{
		TaskID:       pred.ID,
		Status:       NormalizeStatus(pred.Status),
		ErrorMessage: fashnError(pred.Error),
	}
	if ev.Status == StatusCompleted && len(pred.Output) > 0 {
		ev.ResultURL = strings.TrimSpace(pred.Output[0])
	}
	if ev.Status == StatusFailed && ev.ErrorMessage == "" {
		ev.ErrorMessage = "fashn prediction failed"
	}
	return ev, nil
}

// fashnError tolerates both error shapes the API is known to emit.
func fashnError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Name != "" && obj.Message != "" {
			return obj.Name + ": " + obj.Message
		}
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Name
	}
	return string(raw)
}

func (a *FashnAdapter) do(ctx context.Context, method, path string, payload, out any) error {
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
			return fmt.Errorf("fashn: http %d", resp.StatusCode)
		}
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("fashn: http %d", resp.StatusCode)
	}
	return nil
}

var _ Adapter = (*FashnAdapter)(nil)
