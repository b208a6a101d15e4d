package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	embedTimeout    = 30 * time.Second
	completeTimeout = 60 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required for any generation to happen.
	APIKey string `yaml:"api_key"`

	// BaseURL is the API root. Works with OpenAI and any compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// EmbedModel is the embedding model name.
	EmbedModel string `yaml:"embed_model"`
}

// OpenAI is a Provider backed by an OpenAI-compatible HTTP API.
type OpenAI struct {
	apiKey     string
	baseURL    string
	embedModel string
	httpClient *http.Client
}

// NewOpenAI creates a client. An empty base URL defaults to the public
// OpenAI endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		httpClient: &http.Client{},
	}
}

// Configured reports whether an API key is present.
func (o *OpenAI) Configured() bool { return o.apiKey != "" }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// Embed generates an embedding for one text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var result embedResponse
	if err := o.post(ctx, "/embeddings", embedRequest{
		Model: o.embedModel,
		Input: []string{text},
	}, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings API: %s", result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embeddings API returned no data")
	}
	return result.Data[0].Embedding, nil
}

// Complete generates a chat completion.
func (o *OpenAI) Complete(ctx context.Context, model string, messages []Message, temperature float64) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	var result chatResponse
	if err := o.post(ctx, "/chat/completions", chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("chat API: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("chat API returned no choices")
	}
	return &Completion{
		Text:        strings.TrimSpace(result.Choices[0].Message.Content),
		TotalTokens: result.Usage.TotalTokens,
	}, nil
}

// post issues one JSON request and decodes the response into out.
func (o *OpenAI) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API call %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %s (status %d): %s", path, resp.StatusCode, truncate(string(respBody), 300))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*OpenAI)(nil)
