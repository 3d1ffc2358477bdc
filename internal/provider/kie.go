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

// KieOptions configures the Kie.AI adapter. All state is passed in at
// construction; the adapter holds no process-wide mutable configuration.
type KieOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallbackURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// KieAdapter talks to the Kie.AI task API. Kie nests everything under a data
// envelope, reports progress through a state word, and delivers result URLs
// inside a JSON-encoded resultJson string.
type KieAdapter struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	model       string
	callbackURL string
}

func NewKieAdapter(opts KieOptions) *KieAdapter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.kie.ai/api/v1"
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
		model = "google/nano-banana-edit"
	}
	return &KieAdapter{
		httpClient:  client,
		baseURL:     base,
		token:       strings.TrimSpace(opts.APIKey),
		model:       model,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
	}
}

func (a *KieAdapter) Name() string { return "kie" }

type kieCreateTaskRequest struct {
	Model       string       `json:"model"`
	CallBackURL string       `json:"callBackUrl,omitempty"`
	Input       kieTaskInput `json:"input"`
}

type kieTaskInput struct {
	Prompt    string   `json:"prompt"`
	ImageURLs []string `json:"image_urls"`
}

type kieEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type kieTaskData struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailMsg    string `json:"failMsg"`
	FailCode   string `json:"failCode"`
}

// Submit creates a Kie task and returns its task id. The callback URL is
// always supplied so the webhook arrives without polling.
func (a *KieAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if a.token == "" {
		return "", errors.New("kie: API key is missing")
	}
	images := make([]string, 0, 2)
	if req.InputImageURL != "" {
		images = append(images, req.InputImageURL)
	}
	if req.GarmentImageURL != "" {
		images = append(images, req.GarmentImageURL)
	}
	if len(images) == 0 {
		return "", errors.New("kie: at least one image url required")
	}
	payload := kieCreateTaskRequest{
		Model:       a.model,
		CallBackURL: a.callbackURL,
		Input: kieTaskInput{
			Prompt:    req.Prompt,
			ImageURLs: images,
		},
	}
	var env kieEnvelope
	if err := a.do(ctx, http.MethodPost, "/jobs/createTask", payload, &env); err != nil {
		return "", err
	}
	if env.Code != 200 {
		return "", fmt.Errorf("kie error: %s (code %d)", env.Msg, env.Code)
	}
	var data kieTaskData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("kie: decode task data: %w", err)
	}
	if strings.TrimSpace(data.TaskID) == "" {
		return "", errors.New("kie: response missing task id")
	}
	return data.TaskID, nil
}

// PollStatus fetches the current task record. Safe to call redundantly; it
// never mutates provider-side state.
func (a *KieAdapter) PollStatus(ctx context.Context, taskID string) (*Event, error) {
	if a.token == "" {
		return nil, errors.New("kie: API key is missing")
	}
	var env kieEnvelope
	path := "/jobs/recordInfo?taskId=" + taskID
	if err := a.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, fmt.Errorf("kie error: %s (code %d)", env.Msg, env.Code)
	}
	return kieEvent(env.Data)
}

// ParseWebhook decodes a Kie callback. Payloads arrive either wrapped in the
// code/data envelope or as the bare task data.
func (a *KieAdapter) ParseWebhook(body []byte) (*Event, error) {
	var env kieEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("kie: decode webhook: %w", err)
	}
	if len(env.Data) > 0 {
		return kieEvent(env.Data)
	}
	return kieEvent(body)
}

func kieEvent(raw json.RawMessage) (*Event, error) {
	var data kieTaskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("kie: decode task data: %w", err)
	}
	if strings.TrimSpace(data.TaskID) == "" {
		return nil, errors.New("kie: payload missing task id")
	}
	ev := &Event{
		TaskID:       data.TaskID,
		Status:       kieStatus(data.State),
		ErrorMessage: data.FailMsg,
		Raw:          raw,
	}
	if ev.Status == StatusCompleted {
		ev.ResultURL = resultJSONURL(data.ResultJSON)
	}
	if ev.Status == StatusFailed && ev.ErrorMessage == "" {
		ev.ErrorMessage = "kie task failed"
		if data.FailCode != "" {
			ev.ErrorMessage = "kie task failed (code " + data.FailCode + ")"
		}
	}
	return ev, nil
}

// kieStatus maps Kie's state vocabulary onto the canonical one. Kie reports
// "success"/"fail" words and, on older callbacks, numeric flags.
func kieStatus(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "1":
		return StatusCompleted
	case "2", "3":
		return StatusFailed
	}
	return NormalizeStatus(state)
}

func (a *KieAdapter) do(ctx context.Context, method, path string, payload, out any) error {
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
			return fmt.Errorf("kie: http %d", resp.StatusCode)
		}
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("kie: http %d", resp.StatusCode)
	}
	return nil
}

var _ Adapter = (*KieAdapter)(nil)
