package chat

import (
	"context"
	"strings"
	"time"

	"chat-relay/domain/chat"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FallbackContext replaces the context turn when retrieval fails or finds nothing.
const FallbackContext = "Context: No related catalog information was found for this question."

const (
	defaultContextTimeout = 5 * time.Second
	defaultMaxSnippets    = 5
)

// Augmenter builds the extra system turn carrying retrieved reference text.
type Augmenter struct {
	source      chat.ContextSource
	timeout     time.Duration
	maxSnippets int
}

// NewAugmenter wraps source. Non-positive limits fall back to defaults.
func NewAugmenter(source chat.ContextSource, timeout time.Duration, maxSnippets int) *Augmenter {
	if timeout <= 0 {
		timeout = defaultContextTimeout
	}
	if maxSnippets <= 0 {
		maxSnippets = defaultMaxSnippets
	}
	return &Augmenter{source: source, timeout: timeout, maxSnippets: maxSnippets}
}

// Augment never fails: retrieval errors and empty results yield FallbackContext.
func (a *Augmenter) Augment(ctx context.Context, query string) chat.Message {
	ctx, span := tracer.Start(ctx, "context.fetch")
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snippets, err := a.source.FetchContext(fetchCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context retrieval failed")
		logrus.WithFields(logrus.Fields{
			"request_id": chat.RequestID(ctx),
			"error":      err.Error(),
		}).Warn("Context retrieval failed, using fallback")
		return chat.Message{Role: chat.RoleSystem, Content: FallbackContext}
	}

	kept := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
		if len(kept) == a.maxSnippets {
			break
		}
	}
	span.SetAttributes(attribute.Int("context.snippets", len(kept)))
	if len(kept) == 0 {
		logrus.WithField("request_id", chat.RequestID(ctx)).Debug("No context snippets found, using fallback")
		return chat.Message{Role: chat.RoleSystem, Content: FallbackContext}
	}
	return chat.Message{Role: chat.RoleSystem, Content: "Context: " + strings.Join(kept, "\n")}
}
