package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// Ollama transcribes pages with a local Ollama vision model. A local
// backend has no rate limits worth waiting out, so every failure is fatal
// and the call is never retried.
type Ollama struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
}

// NewOllama creates the provider with defaults for unset fields.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2-vision"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Name returns the registry identifier.
func (c *Ollama) Name() string {
	return "ollama"
}

// Retry returns the single-attempt policy.
func (c *Ollama) Retry() Policy {
	return NoRetry
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response   string `json:"response"`
	DoneReason string `json:"done_reason"`
	EvalCount  int    `json:"eval_count"`
}

// Call submits one batch of pages and parses the structured entries.
func (c *Ollama) Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*Result, error) {
	images := make([]string, 0, len(pages))
	for _, page := range pages {
		images = append(images, base64.StdEncoding.EncodeToString(page.Data))
	}

	var prompt strings.Builder
	prompt.WriteString(transcribePrompt)
	prompt.WriteString("\n\n")
	if len(trailing) > 0 {
		prompt.WriteString("Entries already confirmed on the first attached page by the previous batch:\n")
		for _, entry := range trailing {
			prompt.WriteString(fmt.Sprintf("- date=%s hours=%.1f text=%s\n", entry.Date, entry.Hours, entry.Preview(120)))
		}
	}
	prompt.WriteString("Transcribe the attached pages now.")

	reqBody := ollamaRequest{
		Model:  c.Model,
		Prompt: prompt.String(),
		Images: images,
		Stream: false,
		Format: "json",
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, Fatal(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Fatal(fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body)))
	}

	var res ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, Fatal(fmt.Errorf("decode response: %w", err))
	}

	entries, err := parseEntries(res.Response)
	if err != nil {
		if res.DoneReason == "length" {
			return &Result{Truncated: true, OutputTokens: res.EvalCount}, nil
		}
		return nil, Fatal(err)
	}

	return &Result{
		Entries:      entries,
		Truncated:    res.DoneReason == "length",
		OutputTokens: res.EvalCount,
	}, nil
}
