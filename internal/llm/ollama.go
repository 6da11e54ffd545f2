// Package llm wraps the external Ollama capability: chat generation and text
// embedding, behind a shared limiter so extraction, expansion, and retrieval
// cannot starve each other.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/persona-labs/persona/internal/memerr"
)

// Ollama is a client for the Ollama HTTP API.
type Ollama struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
	limiter    *Limiter
}

func NewOllama(baseURL, chatModel, embedModel string, limiter *Limiter) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		limiter:    limiter,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // LLM generation can be slow
		},
	}
}

// ChatModel returns the configured generation model name, recorded as
// extraction provenance on memories.
func (c *Ollama) ChatModel() string { return c.chatModel }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate produces a completion for prompt. Failures come back as
// ProviderError after the limiter's bounded retries.
func (c *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, "")
}

// GenerateJSON is Generate with Ollama's JSON output format enforced.
func (c *Ollama) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, "json")
}

func (c *Ollama) generate(ctx context.Context, prompt, format string) (string, error) {
	var out string
	err := c.limiter.Do(ctx, "chat", func(ctx context.Context) error {
		body, err := json.Marshal(generateRequest{
			Model:  c.chatModel,
			Prompt: prompt,
			Stream: false,
			Format: format,
		})
		if err != nil {
			return fmt.Errorf("marshal generate request: %w", err)
		}

		respBody, err := c.post(ctx, "/api/generate", body)
		if err != nil {
			return err
		}

		var resp generateResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return fmt.Errorf("decode generate response: %w", err)
		}
		if resp.Response == "" {
			return fmt.Errorf("empty response from ollama")
		}
		out = strings.TrimSpace(resp.Response)
		return nil
	})
	return out, err
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding vector for the given text.
func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.limiter.Do(ctx, "embed", func(ctx context.Context) error {
		body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: text})
		if err != nil {
			return fmt.Errorf("marshal embed request: %w", err)
		}

		respBody, err := c.post(ctx, "/api/embed", body)
		if err != nil {
			return err
		}

		var resp embedResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return fmt.Errorf("decode embed response: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return fmt.Errorf("ollama returned no embeddings")
		}
		out = resp.Embeddings[0]
		return nil
	})
	return out, err
}

// post issues the request and classifies HTTP status into retryable provider
// failures (429 and 5xx) vs terminal ones.
func (c *Ollama) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retryableErr(fmt.Errorf("ollama %s: %w", path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableErr(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, retryableErr(fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// HealthCheck verifies Ollama is reachable.
func (c *Ollama) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}

// retryable marks transient provider failures so the limiter retries them.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func retryableErr(err error) error { return retryable{err: err} }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	return errors.As(err, &r) || memerr.Retryable(err)
}
