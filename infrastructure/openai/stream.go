package openai

import (
	"context"
	"sync"

	"chat-relay/domain/chat"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const filteredMessage = "Response was filtered by the provider."

// chunkStream adapts an SDK chunk stream to chat.EventStream. A single
// goroutine owns the SDK stream; Close cancels it and waits for that
// goroutine to exit.
type chunkStream struct {
	events chan chat.UpstreamEvent
	cancel context.CancelFunc
	done   chan struct{}
	model  string

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func newChunkStream(ctx context.Context, cancel context.CancelFunc, sdk *ssestream.Stream[openai.ChatCompletionChunk], primed bool, model string) *chunkStream {
	s := &chunkStream{
		events: make(chan chat.UpstreamEvent),
		cancel: cancel,
		done:   make(chan struct{}),
		model:  model,
	}
	go s.pump(ctx, sdk, primed)
	return s
}

func (s *chunkStream) Events() <-chan chat.UpstreamEvent { return s.events }

func (s *chunkStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chunkStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *chunkStream) pump(ctx context.Context, sdk *ssestream.Stream[openai.ChatCompletionChunk], primed bool) {
	defer close(s.done)
	defer close(s.events)
	defer sdk.Close()

	chunks := 0
	for ok := primed; ok; ok = sdk.Next() {
		chunks++
		for _, ev := range chunkEvents(sdk.Current().RawJSON()) {
			if !s.emit(ctx, ev) {
				return
			}
		}
	}

	if err := sdk.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.err = toFailure(err)
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"model":  s.model,
			"chunks": chunks,
		}).WithError(err).Warn("Upstream stream ended with error")
		return
	}

	s.emit(ctx, chat.StreamEnd())
}

func (s *chunkStream) emit(ctx context.Context, ev chat.UpstreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// chunkEvents classifies one raw chunk. Refusals and content filtering are
// reported as provider errors; the stream continues after them.
func chunkEvents(raw string) []chat.UpstreamEvent {
	var out []chat.UpstreamEvent
	choice := gjson.Get(raw, "choices.0")

	if text := choice.Get("delta.content").String(); text != "" {
		out = append(out, chat.TextDelta(text))
	}
	if refusal := choice.Get("delta.refusal").String(); refusal != "" {
		out = append(out, chat.ProviderError(refusal))
	}
	if choice.Get("finish_reason").String() == "content_filter" {
		out = append(out, chat.ProviderError(filteredMessage))
	}
	return out
}
