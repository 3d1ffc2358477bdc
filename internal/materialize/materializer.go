// Package materialize copies ephemeral provider result URLs into durable
// storage. Provider CDNs expire their links within hours, so completed
// results are re-hosted before they are persisted on the job.
package materialize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/storage"
)

const maxResultBytes = 50 << 20

// Materializer downloads provider results and re-uploads them to the
// configured object store.
type Materializer struct {
	store      storage.ObjectStore
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(store storage.ObjectStore, httpClient *http.Client, logger zerolog.Logger) *Materializer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Materializer{store: store, httpClient: httpClient, logger: logger}
}

// Materialize fetches the bytes behind ephemeralURL and stores them under a
// deterministic owner-scoped key. It fails soft: on any error the original
// URL is returned so the job still completes with a usable (if short-lived)
// result.
func (m *Materializer) Materialize(ctx context.Context, ephemeralURL, userID, jobID string) string {
	data, contentType, err := m.fetch(ctx, ephemeralURL)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("materialize: fetch failed, keeping ephemeral url")
		return ephemeralURL
	}

	key := resultKey(userID, jobID, contentType)
	durableURL, err := m.store.Put(ctx, key, contentType, data)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("materialize: upload failed, keeping ephemeral url")
		return ephemeralURL
	}
	return durableURL
}

// Store uploads already-fetched image bytes (the synchronous Gemini path)
// under the same deterministic key scheme.
func (m *Materializer) Store(ctx context.Context, data []byte, contentType, userID, jobID string) (string, error) {
	key := resultKey(userID, jobID, contentType)
	return m.store.Put(ctx, key, contentType, data)
}

func (m *Materializer) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if strings.TrimSpace(url) == "" {
		return nil, "", fmt.Errorf("materialize: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("materialize: http %d fetching result", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("materialize: empty result body")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// resultKey is deterministic per job so re-materialization overwrites
// instead of accumulating copies.
func resultKey(userID, jobID, contentType string) string {
	return fmt.Sprintf("users/%s/jobs/%s/result%s", userID, jobID, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
