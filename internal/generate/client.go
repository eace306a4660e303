package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultSystemPrompt = `You are a thoughtful, web3-native voice replying to posts from builders and investors.
Replies must be under 280 characters. Speak clearly, never sell, no hashtags,
no slogans, no hype. Say less but mean more. If something moves the space
forward, highlight it; if it is noise, call it quietly.`

// Config configures the HTTP generation client.
type Config struct {
	// URL of an OpenAI-compatible chat completions endpoint.
	URL string

	// APIKey for the Authorization header. Empty sends no header.
	APIKey string

	// Model name passed in the request body.
	Model string

	// SystemPrompt sets the persona. Empty uses the built-in default.
	SystemPrompt string

	// Timeout bounds one attempt. Default: 30s.
	Timeout time.Duration

	// MaxRetries bounds attempts per Generate call. Default: 3.
	MaxRetries int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is an HTTP Generator with bounded exponential retry.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.defaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: httpClient}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate builds the prompt, calls the completion endpoint with retry, and
// scores the cleaned reply.
func (c *Client) Generate(ctx context.Context, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("generate: empty request text")
	}

	system := c.cfg.SystemPrompt
	if add, ok := audienceContext[req.Audience]; ok {
		system += "\n\nCONTEXT: " + add
	}
	if req.Style != "" && req.Style != "neutral" {
		system += "\n\nTONE: lean " + req.Style + "."
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: fmt.Sprintf("Respond to this post: %q", text)},
		},
		Temperature: 0.7,
		MaxTokens:   240,
	}

	raw, err := c.callWithRetry(ctx, &body)
	if err != nil {
		return nil, err
	}

	reply := cleanReply(raw)
	if reply == "" {
		return nil, ErrEmptyReply
	}

	return &Reply{
		Text:       reply,
		Confidence: scoreReply(reply, text),
	}, nil
}

// callWithRetry attempts the HTTP call up to MaxRetries times with
// (2^attempt)+1 second waits between attempts.
func (c *Client) callWithRetry(ctx context.Context, body *chatRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)+1) * time.Second
			c.cfg.Logger.Warn("generate: retrying", "attempt", attempt+1, "wait", wait, "error", lastErr)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}

		reply, err := c.callOnce(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("generate: all attempts failed: %w", lastErr)
}

func (c *Client) callOnce(ctx context.Context, body *chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("generate: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("generate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("generate: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("generate: http %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("generate: decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generate: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return parsed.Choices[0].Message.Content, nil
}

var (
	wrappingQuotes = regexp.MustCompile(`^["'](.+)["']$`)
	replyPrefix    = regexp.MustCompile(`(?i)^(reply|response):\s*`)
)

// cleanReply strips wrapping quotes and "Reply:" prefixes the model
// sometimes adds.
func cleanReply(text string) string {
	text = strings.TrimSpace(text)
	text = wrappingQuotes.ReplaceAllString(text, "$1")
	text = replyPrefix.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var genericPhrases = []string{
	"interesting", "good point", "thanks for sharing",
	"i agree", "nice", "cool", "great",
}

// scoreReply produces the confidence estimate: start high, reward a sane
// length and lexical overlap with the original, punish generic filler.
func scoreReply(reply, original string) float64 {
	score := 0.8

	if n := len(reply); n >= 10 && n <= 280 {
		score += 0.1
	} else {
		score -= 0.2
	}

	lower := strings.ToLower(reply)
	for _, g := range genericPhrases {
		if strings.Contains(lower, g) {
			score -= 0.1
			break
		}
	}

	origWords := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(original)) {
		origWords[w] = true
	}
	for _, w := range strings.Fields(lower) {
		if origWords[w] {
			score += 0.1
			break
		}
	}

	return min(1.0, max(0.1, score))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
