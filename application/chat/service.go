package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"chat-relay/domain/chat"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chat-relay/application/chat")

const maxMessages = 100

// Options configures a Service.
type Options struct {
	DefaultModel  string
	AllowedModels []string
	// SystemPrompt is prepended when a request carries no system turn.
	SystemPrompt string
	// Augmenter is optional; nil disables context augmentation.
	Augmenter *Augmenter
}

// Service orchestrates chat use cases
type Service struct {
	provider      chat.ProviderPort
	stream        chat.StreamProviderPort
	augmenter     *Augmenter
	defaultModel  string
	allowedModels []string
	systemPrompt  string
}

func NewService(provider chat.ProviderPort, stream chat.StreamProviderPort, opts Options) *Service {
	return &Service{
		provider:      provider,
		stream:        stream,
		augmenter:     opts.Augmenter,
		defaultModel:  opts.DefaultModel,
		allowedModels: opts.AllowedModels,
		systemPrompt:  opts.SystemPrompt,
	}
}

// Chat performs one blocking completion.
func (s *Service) Chat(ctx context.Context, req *chat.Request) (*chat.Response, error) {
	input, model, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "chat.complete", trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	start := time.Now()
	text, err := s.provider.Complete(ctx, input, model)
	fields := logrus.Fields{
		"request_id": chat.RequestID(ctx),
		"model":      model,
		"turns":      len(input),
		"latency_ms": time.Since(start).Milliseconds(),
		"streaming":  false,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		logrus.WithFields(fields).WithError(err).Error("Chat completion failed")
		return nil, asFailure(err)
	}
	logrus.WithFields(fields).WithField("chars", len(text)).Info("Chat completion finished")
	return &chat.Response{Text: text}, nil
}

// OpenStream prepares the request and opens an upstream token stream.
// Errors returned here happen before any frame has been produced.
func (s *Service) OpenStream(ctx context.Context, req *chat.Request) (chat.EventStream, error) {
	input, model, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "chat.open_stream", trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	stream, err := s.stream.OpenStream(ctx, input, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		logrus.WithFields(logrus.Fields{
			"request_id": chat.RequestID(ctx),
			"model":      model,
		}).WithError(err).Error("Failed to open upstream stream")
		return nil, asFailure(err)
	}
	logrus.WithFields(logrus.Fields{
		"request_id": chat.RequestID(ctx),
		"model":      model,
		"turns":      len(input),
		"streaming":  true,
	}).Debug("Upstream stream opened")
	return stream, nil
}

// Ask answers a single prompt with the default model and no preamble.
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", chat.ErrValidation)
	}
	input := chat.Normalize([]chat.Message{{Role: chat.RoleUser, Content: prompt}})
	text, err := s.provider.Complete(ctx, input, s.defaultModel)
	if err != nil {
		logrus.WithField("request_id", chat.RequestID(ctx)).WithError(err).Error("Single-shot completion failed")
		return "", asFailure(err)
	}
	return text, nil
}

// prepare validates the request, applies the preamble and context turn, and
// normalizes the result into provider input.
func (s *Service) prepare(ctx context.Context, req *chat.Request) ([]chat.InputItem, string, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, "", fmt.Errorf("%w: messages cannot be empty", chat.ErrValidation)
	}
	if len(req.Messages) > maxMessages {
		return nil, "", fmt.Errorf("%w: too many messages: %d (max %d)", chat.ErrValidation, len(req.Messages), maxMessages)
	}

	turns := make([]chat.Message, 0, len(req.Messages)+2)
	if s.systemPrompt != "" && !hasSystemTurn(req.Messages) {
		turns = append(turns, chat.Message{Role: chat.RoleSystem, Content: s.systemPrompt})
	}
	turns = append(turns, req.Messages...)

	if s.augmenter != nil {
		contextTurn := s.augmenter.Augment(ctx, req.LastUserContent())
		turns = slices.Insert(turns, leadingSystemTurns(turns), contextTurn)
	}

	return chat.Normalize(turns), s.selectModel(req.Model), nil
}

// selectModel honours the requested model only when it is allowed.
func (s *Service) selectModel(requested string) string {
	if requested == "" {
		return s.defaultModel
	}
	if len(s.allowedModels) == 0 || slices.Contains(s.allowedModels, requested) {
		return requested
	}
	logrus.WithFields(logrus.Fields{
		"requested_model": requested,
		"allowed_models":  s.allowedModels,
	}).Warn("Requested model not in allowed list, using default model")
	return s.defaultModel
}

func hasSystemTurn(messages []chat.Message) bool {
	for _, m := range messages {
		if chat.NormalizeRole(m.Role) == chat.RoleSystem {
			return true
		}
	}
	return false
}

func leadingSystemTurns(messages []chat.Message) int {
	n := 0
	for n < len(messages) && chat.NormalizeRole(messages[n].Role) == chat.RoleSystem {
		n++
	}
	return n
}

func asFailure(err error) error {
	var failure *chat.ChatFailure
	if errors.As(err, &failure) {
		return err
	}
	return chat.NewChatFailure("", err)
}
