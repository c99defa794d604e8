package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

const ProviderName = "anthropic"

type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
	executor  *resilience.Executor
}

func New(apiKey, model, baseURL string, timeout time.Duration, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic api key is not configured")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 2048,
		executor:  executor,
	}, nil
}

func (c *Client) Model() string { return c.model }

type Messages struct {
	client      *Client
	temperature float64
}

func (c *Client) Messages(temperature float64) *Messages {
	return &Messages{client: c, temperature: temperature}
}

func (m *Messages) Invoke(ctx context.Context, prompt string) (string, error) {
	text, err := resilience.Call(ctx, m.client.executor, "anthropic.messages", func(callCtx context.Context) (string, error) {
		message, err := m.client.api.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:       anthropic.Model(m.client.model),
			MaxTokens:   m.client.maxTokens,
			Temperature: anthropic.Float(m.temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("anthropic messages: %w", err)
		}
		for _, block := range message.Content {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				return strings.TrimSpace(block.Text), nil
			}
		}
		return "", errors.New("anthropic messages: no text content in response")
	}, classifyAnthropicError)
	if err != nil {
		if classifyAnthropicError(err).Retryable {
			return "", domain.WrapError(domain.ErrTemporary, "anthropic messages", err)
		}
		return "", err
	}
	return text, nil
}

func classifyAnthropicError(err error) resilience.ErrorClassification {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if resilience.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyTransport(err)
}
