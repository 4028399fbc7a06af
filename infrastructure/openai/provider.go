package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chat-relay/domain/chat"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// errClientRejected marks 4xx answers caused by the request itself. They do
// not count against the model's circuit breaker.
var errClientRejected = errors.New("request rejected by provider")

// Config holds upstream connection settings.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	// Timeout bounds one blocking completion attempt. Streams are bounded by
	// the caller's context only.
	Timeout time.Duration
}

// Provider invokes the OpenAI chat completions API.
type Provider struct {
	client  openai.Client
	timeout time.Duration
}

func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	// Configure HTTP client with connection pooling
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(&http.Client{Transport: transport}),
	)

	return &Provider{client: client, timeout: cfg.Timeout}
}

// Complete issues one blocking completion and returns the output text.
func (p *Provider) Complete(ctx context.Context, input []chat.InputItem, model string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, buildParams(input, model), option.WithRequestTimeout(p.timeout))
	if err != nil {
		return "", toFailure(err)
	}

	text := ExtractText(completion.RawJSON())
	if text == "" {
		logrus.WithFields(logrus.Fields{
			"model":         model,
			"completion_id": completion.ID,
		}).Warn("Completion carried no extractable text")
	}
	return text, nil
}

// OpenStream starts a streaming completion. The first read happens here so
// that authentication, quota and transport failures surface as an error
// before any event is produced.
func (p *Provider) OpenStream(ctx context.Context, input []chat.InputItem, model string) (chat.EventStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream := p.client.Chat.Completions.NewStreaming(streamCtx, buildParams(input, model))

	primed := stream.Next()
	if !primed {
		if err := stream.Err(); err != nil {
			_ = stream.Close()
			cancel()
			return nil, toFailure(err)
		}
	}

	return newChunkStream(streamCtx, cancel, stream, primed, model), nil
}

func buildParams(input []chat.InputItem, model string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toMessageParams(input),
	}
}

// toMessageParams maps normalized items onto chat completion messages.
// Output-tagged items become assistant messages.
func toMessageParams(input []chat.InputItem) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(input))
	for i, item := range input {
		text := item.Text()
		switch item.Role {
		case chat.RoleSystem:
			result[i] = openai.SystemMessage(text)
		case chat.RoleAssistant:
			result[i] = openai.AssistantMessage(text)
		default:
			result[i] = openai.UserMessage(text)
		}
	}
	return result
}

// toFailure converts SDK errors into a ChatFailure carrying the provider's
// message when one is available.
func toFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return chat.NewChatFailure("", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = ExtractErrorMessage(apiErr.RawJSON())
		}
		logrus.WithFields(logrus.Fields{
			"status": apiErr.StatusCode,
			"type":   apiErr.Type,
		}).Debug("Provider returned an API error")
		if isClientRejection(apiErr.StatusCode) {
			return chat.NewChatFailure(msg, fmt.Errorf("%w: openai api error: status %d: %w", errClientRejected, apiErr.StatusCode, err))
		}
		return chat.NewChatFailure(msg, fmt.Errorf("openai api error: status %d: %w", apiErr.StatusCode, err))
	}
	// in-band stream errors arrive as plain errors wrapping the provider JSON
	return chat.NewChatFailure(ExtractErrorMessage(err.Error()), err)
}

// isClientRejection reports 4xx statuses other than timeouts and rate limits.
func isClientRejection(status int) bool {
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}
