package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chat-relay/domain/chat"
	"chat-relay/internal/testutil"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProvider is a mock implementation of the completion port
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, input []chat.InputItem, model string) (string, error) {
	args := m.Called(ctx, input, model)
	return args.String(0), args.Error(1)
}

// MockStreamProvider is a mock implementation of the streaming port
type MockStreamProvider struct {
	mock.Mock
}

func (m *MockStreamProvider) OpenStream(ctx context.Context, input []chat.InputItem, model string) (chat.EventStream, error) {
	args := m.Called(ctx, input, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(chat.EventStream), args.Error(1)
}

var helloInput = chat.Normalize([]chat.Message{{Role: chat.RoleUser, Content: "Hello"}})

func TestNewCircuitBreakerProvider(t *testing.T) {
	mockProvider := &MockProvider{}
	mockStream := &MockStreamProvider{}
	config := DefaultCircuitBreakerConfig()

	cbProvider := NewCircuitBreakerProvider(mockProvider, mockStream, config)

	assert.NotNil(t, cbProvider)
	assert.Equal(t, config, cbProvider.config)
	assert.Equal(t, mockProvider, cbProvider.provider)
	assert.Equal(t, mockStream, cbProvider.stream)
	assert.NotNil(t, cbProvider.breakers)
}

func TestCircuitBreakerProvider_Complete_Success(t *testing.T) {
	mockProvider := &MockProvider{}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, DefaultCircuitBreakerConfig())

	mockProvider.On("Complete", mock.Anything, helloInput, "test-model").Return("Hi there!", nil)

	text, err := cbProvider.Complete(context.Background(), helloInput, "test-model")

	assert.NoError(t, err)
	assert.Equal(t, "Hi there!", text)
	mockProvider.AssertExpectations(t)
}

func TestCircuitBreakerProvider_Complete_Disabled(t *testing.T) {
	mockProvider := &MockProvider{}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, CircuitBreakerConfig{Enabled: false})

	mockProvider.On("Complete", mock.Anything, helloInput, "test-model").Return("ok", nil)

	text, err := cbProvider.Complete(context.Background(), helloInput, "test-model")

	assert.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Empty(t, cbProvider.GetCircuitStates())
	mockProvider.AssertExpectations(t)
}

func TestCircuitBreakerProvider_Complete_CircuitOpen(t *testing.T) {
	mockProvider := &MockProvider{}
	config := CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2, // Low threshold for faster testing
		Timeout:          1 * time.Second,
		MaxRequests:      1,
	}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, config)

	mockProvider.On("Complete", mock.Anything, helloInput, "test-model").
		Return("", errors.New("service unavailable")).Times(2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := cbProvider.Complete(ctx, helloInput, "test-model")
		assert.Error(t, err)
	}

	_, err := cbProvider.Complete(ctx, helloInput, "test-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, chat.ErrUpstream)
	assert.Equal(t, chat.GenericFailureMessage, chat.FailureMessage(err))

	mockProvider.AssertExpectations(t)
}

func TestCircuitBreakerProvider_CancellationDoesNotTrip(t *testing.T) {
	mockProvider := &MockProvider{}
	config := CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Minute, MaxRequests: 1}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, config)

	mockProvider.On("Complete", mock.Anything, helloInput, "m").Return("", context.Canceled)

	for i := 0; i < 3; i++ {
		_, err := cbProvider.Complete(context.Background(), helloInput, "m")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cbProvider.GetCircuitStates()["m"])
}

func TestCircuitBreakerProvider_ClientRejectionDoesNotTrip(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"context_length_exceeded","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)
	config := CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, Timeout: time.Minute, MaxRequests: 1}
	cbProvider := NewCircuitBreakerProvider(provider, provider, config)

	for i := 0; i < 3; i++ {
		_, err := cbProvider.Complete(context.Background(), helloInput, "gpt-4.1-mini")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, "context_length_exceeded", chat.FailureMessage(err))
	}
	for i := 0; i < 3; i++ {
		_, err := cbProvider.OpenStream(context.Background(), helloInput, "gpt-4.1-mini")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, gobreaker.StateClosed, cbProvider.GetCircuitStates()["gpt-4.1-mini"])
}

func TestCircuitBreakerProvider_ServerErrorTrips(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)
	config := CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, Timeout: time.Minute, MaxRequests: 1}
	cbProvider := NewCircuitBreakerProvider(provider, provider, config)

	for i := 0; i < 3; i++ {
		_, _ = cbProvider.Complete(context.Background(), helloInput, "gpt-4.1-mini")
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, cbProvider.GetCircuitStates()["gpt-4.1-mini"])
}

func TestCircuitBreakerProvider_SeparateBreakersPerModel(t *testing.T) {
	mockProvider := &MockProvider{}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, DefaultCircuitBreakerConfig())

	mockProvider.On("Complete", mock.Anything, helloInput, mock.Anything).Return("ok", nil)
	_, _ = cbProvider.Complete(context.Background(), helloInput, "gpt-4.1")
	_, _ = cbProvider.Complete(context.Background(), helloInput, "gpt-4-1")
	_, _ = cbProvider.Complete(context.Background(), helloInput, "GPT-4.1")

	assert.Len(t, cbProvider.GetCircuitStates(), 2)
}

func TestCircuitBreakerProvider_OpenStream_Success(t *testing.T) {
	mockStream := &MockStreamProvider{}
	cbProvider := NewCircuitBreakerProvider(&MockProvider{}, mockStream, DefaultCircuitBreakerConfig())

	fake := testutil.NewFakeStream(testutil.HelloScript())
	mockStream.On("OpenStream", mock.Anything, helloInput, "test-model").Return(fake, nil)

	stream, err := cbProvider.OpenStream(context.Background(), helloInput, "test-model")

	require.NoError(t, err)
	assert.Same(t, fake, stream)
	mockStream.AssertExpectations(t)
}

func TestCircuitBreakerProvider_OpenStream_CircuitOpen(t *testing.T) {
	mockStream := &MockStreamProvider{}
	config := CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Minute, MaxRequests: 1}
	cbProvider := NewCircuitBreakerProvider(&MockProvider{}, mockStream, config)

	mockStream.On("OpenStream", mock.Anything, helloInput, "m").Return(nil, errors.New("401")).Once()

	_, err := cbProvider.OpenStream(context.Background(), helloInput, "m")
	require.Error(t, err)

	_, err = cbProvider.OpenStream(context.Background(), helloInput, "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	mockStream.AssertExpectations(t)
}

func TestCircuitBreakerProvider_GetCircuitStates(t *testing.T) {
	mockProvider := &MockProvider{}
	cbProvider := NewCircuitBreakerProvider(mockProvider, &MockStreamProvider{}, DefaultCircuitBreakerConfig())

	assert.Empty(t, cbProvider.GetCircuitStates())

	mockProvider.On("Complete", mock.Anything, helloInput, "test-model").Return("", nil)
	_, _ = cbProvider.Complete(context.Background(), helloInput, "test-model")

	states := cbProvider.GetCircuitStates()
	assert.Len(t, states, 1)
	assert.Equal(t, gobreaker.StateClosed, states["test-model"])
}

func TestBreakerKey(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected string
	}{
		{"model with slashes", "openai/gpt-4", "openai/gpt-4"},
		{"model with dots", "gpt-4.1-mini", "gpt-4.1-mini"},
		{"empty model", "", "default"},
		{"mixed case", "GPT-4o", "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, breakerKey(tt.model))
		})
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig()

	assert.True(t, config.Enabled)
	assert.Equal(t, uint32(5), config.FailureThreshold)
	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, uint32(3), config.MaxRequests)
}
