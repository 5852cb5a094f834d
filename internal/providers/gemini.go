package providers

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

	"github.com/rs/zerolog"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiOptions controls how the Gemini generator is configured.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// GeminiGenerator calls the Gemini generateContent API and returns the first
// inline artifact of the response.
type GeminiGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewGeminiGenerator constructs a Gemini generator with sane defaults.
func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiGenerator{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		log:        opts.Logger,
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate runs one generateContent call and decodes the first inline blob.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Artifact, error) {
	model := req.ModelID
	if model == "" {
		model = g.model
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: promptText(req)}},
		}},
	})
	if err != nil {
		return nil, Errorf("PROVIDER_REQUEST", "encode request: %v", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Errorf("PROVIDER_REQUEST", "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, Transientf("PROVIDER_TIMEOUT", "gemini call timed out: %v", err)
		}
		return nil, Transientf("PROVIDER_UNAVAILABLE", "gemini call failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, Transientf("PROVIDER_UNAVAILABLE", "read gemini response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr geminiErrorResponse
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		g.log.Warn().Int("status", resp.StatusCode).Str("model", model).Msg("gemini request rejected")
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Transientf("PROVIDER_UNAVAILABLE", "gemini status %d: %s", resp.StatusCode, msg)
		}
		return nil, Errorf("PROVIDER_REJECTED", "gemini status %d: %s", resp.StatusCode, msg)
	}

	var out geminiResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, Errorf("PROVIDER_RESPONSE", "decode gemini response: %v", err)
	}

	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, Errorf("PROVIDER_RESPONSE", "decode inline data: %v", err)
			}
			return &Artifact{
				Data:        data,
				ContentType: part.InlineData.MimeType,
				Format:      formatForMIME(part.InlineData.MimeType),
			}, nil
		}
	}
	return nil, Errorf("PROVIDER_EMPTY", "gemini returned no inline artifact for model %s", model)
}

func promptText(req GenerateRequest) string {
	if desc, ok := req.PromptSpec["description"].(string); ok && desc != "" {
		return desc
	}
	raw, err := json.Marshal(req.PromptSpec)
	if err != nil {
		return ""
	}
	return string(raw)
}

func formatForMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "audio/mpeg":
		return "mp3"
	case "audio/wav":
		return "wav"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}

var _ Generator = (*GeminiGenerator)(nil)
