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

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

const transcribePrompt = `You are transcribing scanned aircraft maintenance logbook pages.
Return a JSON object {"entries": [...]} where each entry has:
  "page"  - zero-based index of the page within THIS request,
  "date"  - entry date as YYYY-MM-DD when legible, else the raw text,
  "hours" - recorded tach or Hobbs time as a number, 0 if unreadable,
  "text"  - the full transcribed entry body.
Pages are in reading order. An entry that continues across a page boundary
belongs to the page it starts on. Do not invent entries.`

// OpenAI transcribes pages with an OpenAI-compatible vision chat endpoint.
// Rate limits, server errors, and timeouts are transient; everything else
// fails the call fatally.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

// NewOpenAI creates the provider with sane defaults for unset fields.
func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAI{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Name returns the registry identifier.
func (c *OpenAI) Name() string {
	return "openai"
}

// Retry returns bounded exponential backoff for transient failures.
func (c *OpenAI) Retry() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     8 * time.Second,
	}
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call submits one batch of pages and parses the structured entries.
func (c *OpenAI) Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*Result, error) {
	content := []chatContent{{Type: "text", Text: c.userPrompt(trailing)}}
	for _, page := range pages {
		mime := page.ContentType
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, chatContent{
			Type: "image_url",
			ImageURL: &chatImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(page.Data)),
			},
		})
	}

	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []chatContent{{Type: "text", Text: transcribePrompt}}},
			{Role: "user", Content: content},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, Fatal(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Network errors and client timeouts are worth retrying.
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Transient(err)
		}
		return nil, Fatal(err)
	}

	var res chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, Fatal(fmt.Errorf("decode response: %w", err))
	}
	if len(res.Choices) == 0 {
		return nil, Fatal(errors.New("openai response has no choices"))
	}

	choice := res.Choices[0]
	entries, err := parseEntries(choice.Message.Content)
	if err != nil {
		if choice.FinishReason == "length" {
			// The length ceiling can cut the JSON itself mid-object;
			// report what parsed rather than failing the batch.
			return &Result{Truncated: true, OutputTokens: res.Usage.CompletionTokens}, nil
		}
		return nil, Fatal(err)
	}

	return &Result{
		Entries:      entries,
		Truncated:    choice.FinishReason == "length",
		OutputTokens: res.Usage.CompletionTokens,
	}, nil
}

func (c *OpenAI) userPrompt(trailing []domain.LogEntry) string {
	var b strings.Builder
	b.WriteString("Transcribe the attached logbook pages.")
	if len(trailing) > 0 {
		b.WriteString("\nThe first attached page was already partially transcribed as part of the previous batch. Entries already confirmed on it:\n")
		for _, entry := range trailing {
			b.WriteString(fmt.Sprintf("- date=%s hours=%.1f text=%s\n", entry.Date, entry.Hours, entry.Preview(120)))
		}
		b.WriteString("Use them to keep entries that span the page boundary consistent; re-emit an entry from that page only as you actually read it.")
	}
	return b.String()
}

// parseEntries decodes the {"entries": [...]} payload the prompt asks for.
// A bare top-level array is accepted too.
func parseEntries(content string) ([]domain.LogEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty transcription payload")
	}

	var wrapped struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil {
		return wrapped.Entries, nil
	}

	var bare []domain.LogEntry
	if err := json.Unmarshal([]byte(content), &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("unparseable transcription payload: %.120s", content)
}
