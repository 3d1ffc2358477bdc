package provider

import (
	"context"
	"encoding/json"
	"strings"

	"server/internal/domain"
)

// Status is the canonical three-state vocabulary every provider response is
// normalized into before any reconciliation logic runs.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event is the single canonical representation of a provider callback or
// poll response. Provider quirks stop at the adapter boundary; the
// reconciler only ever sees events.
type Event struct {
	TaskID       string
	Status       Status
	ResultURL    string
	Analysis     string
	ErrorMessage string
	Raw          json.RawMessage
}

// SubmitRequest carries the normalized inputs for a job submission.
type SubmitRequest struct {
	JobID           string
	JobType         domain.JobType
	Prompt          string
	InputImageURL   string
	GarmentImageURL string
}

// Adapter is the uniform contract over heterogeneous third-party protocols.
// Submit always registers a callback URL with the provider; PollStatus is a
// fallback for windows where the webhook has not arrived yet and must be safe
// to call redundantly.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (taskID string, err error)
	PollStatus(ctx context.Context, taskID string) (*Event, error)
	ParseWebhook(body []byte) (*Event, error)
}

// NormalizeStatus folds a provider status word into the canonical vocabulary.
// Unknown values mean the task is still in flight.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "succeeded", "success", "succeed":
		return StatusCompleted
	case "failed", "error", "fail", "canceled", "cancelled":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// ExtractResultURL probes a decoded payload for a result image URL using the
// ranked fallback chain shared by all providers:
//
//	resultJson.resultUrls[0] -> result.image_url -> output[0] -> image_url
//
// Payloads may nest everything under a data envelope and resultJson may
// arrive as a JSON-encoded string; both variants are probed. Returns "" when
// no location yields a URL.
func ExtractResultURL(payload map[string]any) string {
	scopes := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}

	for _, scope := range scopes {
		if url := resultJSONURL(scope["resultJson"]); url != "" {
			return url
		}
	}
	for _, scope := range scopes {
		if result, ok := scope["result"].(map[string]any); ok {
			if url := asURL(result["image_url"]); url != "" {
				return url
			}
		}
	}
	for _, scope := range scopes {
		if url := outputURL(scope["output"]); url != "" {
			return url
		}
	}
	for _, scope := range scopes {
		if url := asURL(scope["image_url"]); url != "" {
			return url
		}
	}
	return ""
}

// ExtractTaskID probes the known task id locations across provider payload
// shapes: data.taskId, taskId, task_id, and id.
func ExtractTaskID(payload map[string]any) string {
	scopes := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	for _, scope := range scopes {
		for _, key := range []string{"taskId", "task_id", "id"} {
			if id := asURL(scope[key]); id != "" {
				return id
			}
		}
	}
	return ""
}

func resultJSONURL(v any) string {
	var node map[string]any
	switch rj := v.(type) {
	case string:
		if strings.TrimSpace(rj) == "" {
			return ""
		}
		if err := json.Unmarshal([]byte(rj), &node); err != nil {
			return ""
		}
	case map[string]any:
		node = rj
	default:
		return ""
	}
	urls, ok := node["resultUrls"].([]any)
	if !ok || len(urls) == 0 {
		return ""
	}
	return asURL(urls[0])
}

func outputURL(v any) string {
	switch out := v.(type) {
	case []any:
		if len(out) == 0 {
			return ""
		}
		return asURL(out[0])
	case string:
		return strings.TrimSpace(out)
	default:
		return ""
	}
}

func asURL(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
