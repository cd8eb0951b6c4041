// Package llm provides the chat-completion backed follow-up question
// generator and predictor used by the pipeline.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/httpclient"
	"github.com/synaptica-ai/prescreen/pkg/dlp"
	"github.com/synaptica-ai/prescreen/pkg/pipeline"
)

type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Temperature   float32
	// Redactor masks identifiers in user content. Nil sends it as is.
	Redactor *dlp.Detector
}

// Client wraps an OpenAI compatible chat-completions endpoint.
type Client struct {
	api         *openai.Client
	model       string
	attempts    int
	delay       time.Duration
	temperature float32
	redactor    *dlp.Detector
	log         logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = httpclient.New(timeout)

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		attempts:    cfg.RetryAttempts,
		delay:       delay,
		temperature: cfg.Temperature,
		redactor:    cfg.Redactor,
		log:         log,
	}
}

// Complete sends one system and one user message and returns the reply.
// 429, 5xx and timeouts are retried with backoff.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if findings := c.redactor.Detect(user); len(findings) > 0 {
		c.log.WithField("findings", len(findings)).Debug("Redacting prompt")
		user = c.redactor.Redact(user)
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.temperature,
	}

	var content string
	attempt := 0
	err := httpclient.RetryIf(ctx, c.attempts, c.delay, retriable, func() error {
		attempt++
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"model": c.model, "attempt": attempt}).Warn("Chat completion failed")
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("chat completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return content, nil
}

func retriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return httpclient.IsRetriable(&httpclient.StatusError{StatusCode: apiErr.HTTPStatusCode})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return httpclient.IsRetriable(&httpclient.StatusError{StatusCode: reqErr.HTTPStatusCode})
	}
	return httpclient.IsRetriable(err)
}

// decodeJSON parses a model reply, tolerating markdown code fences.
func decodeJSON(reply string, out any) error {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), out); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// renderHistory formats Q&A pairs one per line for a prompt.
func renderHistory(history []pipeline.QAPair) string {
	var b strings.Builder
	for i, pair := range history {
		fmt.Fprintf(&b, "%d. [%s] Q: %s\n   A: %s\n", i+1, pair.Source, pair.Question, renderAnswer(pair.Answer))
	}
	return b.String()
}

func renderAnswer(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case nil:
		return "-"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
