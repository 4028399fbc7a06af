package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-relay/domain/chat"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig holds configuration for circuit breaker behavior
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,                // Open after 5 consecutive failures
		Timeout:          60 * time.Second, // Stay open for 60 seconds
		MaxRequests:      3,                // Allow max 3 requests in half-open state
	}
}

// CircuitBreakerProvider wraps the upstream invoker with one breaker per model.
// A stream counts as successful once it is open; failures later in the
// session are reported to the client but do not trip the breaker.
type CircuitBreakerProvider struct {
	provider chat.ProviderPort
	stream   chat.StreamProviderPort
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	mutex    sync.RWMutex
}

func NewCircuitBreakerProvider(provider chat.ProviderPort, stream chat.StreamProviderPort, config CircuitBreakerConfig) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		provider: provider,
		stream:   stream,
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Complete implements chat.ProviderPort with circuit breaker protection
func (c *CircuitBreakerProvider) Complete(ctx context.Context, input []chat.InputItem, model string) (string, error) {
	if !c.config.Enabled {
		return c.provider.Complete(ctx, input, model)
	}

	breaker := c.getOrCreateBreaker(model)
	result, err := breaker.Execute(func() (interface{}, error) {
		return c.provider.Complete(ctx, input, model)
	})
	if err != nil {
		return "", c.rejected(breaker, model, err)
	}
	return result.(string), nil
}

// OpenStream implements chat.StreamProviderPort with circuit breaker protection
func (c *CircuitBreakerProvider) OpenStream(ctx context.Context, input []chat.InputItem, model string) (chat.EventStream, error) {
	if !c.config.Enabled {
		return c.stream.OpenStream(ctx, input, model)
	}

	breaker := c.getOrCreateBreaker(model)
	result, err := breaker.Execute(func() (interface{}, error) {
		return c.stream.OpenStream(ctx, input, model)
	})
	if err != nil {
		return nil, c.rejected(breaker, model, err)
	}
	return result.(chat.EventStream), nil
}

// GetCircuitStates returns the current state of all circuit breakers for monitoring
func (c *CircuitBreakerProvider) GetCircuitStates() map[string]gobreaker.State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	states := make(map[string]gobreaker.State, len(c.breakers))
	for model, breaker := range c.breakers {
		states[model] = breaker.State()
	}
	return states
}

func (c *CircuitBreakerProvider) rejected(breaker *gobreaker.CircuitBreaker, model string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logrus.WithFields(logrus.Fields{
			"model": model,
			"state": breaker.State().String(),
		}).Warn("Circuit breaker is open, failing fast")
		return chat.NewChatFailure("", fmt.Errorf("circuit breaker open for model %s: %w", model, err))
	}
	return err
}

// getOrCreateBreaker gets or creates a circuit breaker for the specified model
func (c *CircuitBreakerProvider) getOrCreateBreaker(model string) *gobreaker.CircuitBreaker {
	key := breakerKey(model)
	c.mutex.RLock()
	if breaker, exists := c.breakers[key]; exists {
		c.mutex.RUnlock()
		return breaker
	}
	c.mutex.RUnlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Double-check pattern: another goroutine might have created it while we waited
	if breaker, exists := c.breakers[key]; exists {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("llm-model-%s", model),
		MaxRequests: c.config.MaxRequests,
		Interval:    0, // No automatic clearing of counts (we rely on timeout)
		Timeout:     c.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.config.FailureThreshold
		},
		// Client cancellations and rejected requests say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errClientRejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"model":      model,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Info("Circuit breaker state changed")
		},
	}

	breaker := gobreaker.NewCircuitBreaker(settings)
	c.breakers[key] = breaker

	logrus.WithField("model", model).Debug("Created new circuit breaker for model")
	return breaker
}

// breakerKey normalizes a model name for use as a map key
func breakerKey(model string) string {
	if model == "" {
		return "default"
	}
	return strings.ToLower(model)
}
