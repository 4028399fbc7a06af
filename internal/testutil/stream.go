// Package testutil provides fakes shared by package tests.
package testutil

import (
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/domain/chat"
)

// FakeStream is a chat.EventStream fed from a fixed script of events.
type FakeStream struct {
	events chan chat.UpstreamEvent
	err    error
	done   chan struct{}
	once   sync.Once
	closes atomic.Int32
}

// StreamOption tweaks a FakeStream.
type StreamOption func(*streamConfig)

type streamConfig struct {
	delay time.Duration
	err   error
	hold  bool
}

// WithDelay waits d before emitting each event.
func WithDelay(d time.Duration) StreamOption {
	return func(c *streamConfig) { c.delay = d }
}

// WithFailure ends the session with err after the scripted events.
func WithFailure(err error) StreamOption {
	return func(c *streamConfig) { c.err = err }
}

// WithHold keeps the session open after the scripted events until Close.
func WithHold() StreamOption {
	return func(c *streamConfig) { c.hold = true }
}

// NewFakeStream starts producing events in the background.
func NewFakeStream(events []chat.UpstreamEvent, opts ...StreamOption) *FakeStream {
	cfg := streamConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &FakeStream{
		events: make(chan chat.UpstreamEvent),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.events)
		for _, ev := range events {
			if cfg.delay > 0 {
				select {
				case <-time.After(cfg.delay):
				case <-s.done:
					return
				}
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
		if cfg.hold {
			<-s.done
			return
		}
		s.err = cfg.err
	}()
	return s
}

func (s *FakeStream) Events() <-chan chat.UpstreamEvent { return s.events }

func (s *FakeStream) Err() error { return s.err }

func (s *FakeStream) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closes reports how many times Close was called.
func (s *FakeStream) Closes() int { return int(s.closes.Load()) }

// HelloScript yields "Hi", " there" and the end marker.
func HelloScript() []chat.UpstreamEvent {
	return []chat.UpstreamEvent{chat.TextDelta("Hi"), chat.TextDelta(" there"), chat.StreamEnd()}
}
