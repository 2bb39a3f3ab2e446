// Package oracle implements the external reasoning and vision oracles as
// swappable implementations of the narrow interfaces in api/schemas. Both
// speak an HTTP chat-completion dialect and are treated as untrusted:
// responses are unwrapped, schema-checked and otherwise discarded.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/internal/config"
)

// Client is a minimal chat-completion client for one configured model
// endpoint. It supports the OpenAI-compatible dialect (also spoken by
// Ollama) and the Anthropic messages dialect.
type Client struct {
	cfg    config.OracleModelConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a client for the given model endpoint.
func NewClient(cfg config.OracleModelConfig, logger *zap.Logger) *Client {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("oracle_client").With(zap.String("model", cfg.Model)),
	}
}

// Message is one chat turn. Image, when set, is raw bytes attached to the
// user turn in the provider's image encoding.
type Message struct {
	Role  string
	Text  string
	Image []byte
}

// Complete sends the conversation and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	endpoint, body, err := c.buildRequest(system, messages)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.cfg.Provider {
	case config.ProviderAnthropic:
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("reading oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	text, err := c.extractText(raw)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Oracle call completed.",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_chars", len(text)))
	return text, nil
}

func (c *Client) buildRequest(system string, messages []Message) (string, []byte, error) {
	switch c.cfg.Provider {
	case config.ProviderAnthropic:
		return c.buildAnthropic(system, messages)
	default:
		return c.buildOpenAI(system, messages)
	}
}

func (c *Client) buildOpenAI(system string, messages []Message) (string, []byte, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}

	msgs := make([]map[string]any, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": system})
	}
	for _, m := range messages {
		if m.Image == nil {
			msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Text})
			continue
		}
		dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(m.Image)
		msgs = append(msgs, map[string]any{
			"role": m.Role,
			"content": []map[string]any{
				{"type": "text", "text": m.Text},
				{"type": "image_url", "image_url": map[string]string{"url": dataURI}},
			},
		})
	}

	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    msgs,
		"temperature": c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}
	body, err := jsoniter.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encoding oracle request: %w", err)
	}
	return endpoint, body, nil
}

func (c *Client) buildAnthropic(system string, messages []Message) (string, []byte, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}

	msgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		if m.Image == nil {
			msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Text})
			continue
		}
		msgs = append(msgs, map[string]any{
			"role": m.Role,
			"content": []map[string]any{
				{"type": "image", "source": map[string]string{
					"type":       "base64",
					"media_type": "image/jpeg",
					"data":       base64.StdEncoding.EncodeToString(m.Image),
				}},
				{"type": "text", "text": m.Text},
			},
		})
	}

	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := map[string]any{
		"model":      c.cfg.Model,
		"system":     system,
		"messages":   msgs,
		"max_tokens": maxTokens,
	}
	body, err := jsoniter.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encoding oracle request: %w", err)
	}
	return endpoint, body, nil
}

func (c *Client) extractText(raw []byte) (string, error) {
	switch c.cfg.Provider {
	case config.ProviderAnthropic:
		var parsed struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := jsoniter.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("decoding oracle response: %w", err)
		}
		for _, block := range parsed.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("oracle response carried no text block")
	default:
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := jsoniter.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("decoding oracle response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("oracle response carried no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}
}

// UnwrapJSON strips a markdown code fence around a JSON body, when present.
// Oracles routinely fence their output despite instructions not to.
func UnwrapJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
