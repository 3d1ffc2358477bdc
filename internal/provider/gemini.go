package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiOptions configures the synchronous Gemini editor.
type GeminiOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GeminiEditor is the one synchronous provider: photo-edit jobs send the
// source image inline and get the edited image (plus an optional textual
// analysis) back in the same call, so these jobs never enter the webhook
// lifecycle.
type GeminiEditor struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// EditRequest carries one inline edit invocation.
type EditRequest struct {
	Prompt        string
	InputImageURL string
}

// EditResult is the decoded edit outcome.
type EditResult struct {
	ImageData []byte
	MIME      string
	Analysis  string
}

func NewGeminiEditor(opts GeminiOptions) *GeminiEditor {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
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
		model = "gemini-2.0-flash-exp"
	}
	return &GeminiEditor{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities,omitempty"`
	} `json:"generationConfig"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Edit fetches the source image, sends it inline with the prompt, and
// decodes the edited image from the first candidate.
func (g *GeminiEditor) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	if g.apiKey == "" {
		return nil, errors.New("gemini: API key is missing")
	}
	if strings.TrimSpace(req.InputImageURL) == "" {
		return nil, errors.New("gemini: input image url required")
	}
	imgData, mime, err := g.fetchImage(ctx, req.InputImageURL)
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch source image: %w", err)
	}

	var payload geminiGenerateRequest
	payload.Contents = []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{InlineData: &geminiInlineData{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(imgData),
			}},
			{Text: req.Prompt},
		},
	}}
	payload.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("gemini: http %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != nil && out.Error.Message != "" {
			return nil, fmt.Errorf("gemini error: %s", out.Error.Message)
		}
		return nil, fmt.Errorf("gemini: http %d", resp.StatusCode)
	}
	if len(out.Candidates) == 0 {
		return nil, errors.New("gemini: empty response")
	}

	result := &EditResult{}
	for _, part := range out.Candidates[0].Content.Parts {
		if part.InlineData != nil && result.ImageData == nil {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode image data: %w", err)
			}
			result.ImageData = data
			result.MIME = part.InlineData.MimeType
		}
		if part.Text != "" {
			if result.Analysis != "" {
				result.Analysis += "\n"
			}
			result.Analysis += part.Text
		}
	}
	if result.ImageData == nil {
		return nil, errors.New("gemini: response contained no image")
	}
	if result.MIME == "" {
		result.MIME = "image/png"
	}
	return result, nil
}

func (g *GeminiEditor) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
