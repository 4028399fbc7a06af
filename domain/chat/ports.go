package chat

import "context"

// ProviderPort abstracts a blocking chat provider (e.g., OpenAI)
type ProviderPort interface {
	Complete(ctx context.Context, input []InputItem, model string) (string, error)
}

// StreamProviderPort opens token-stream sessions.
// Opening may fail before any event is produced.
type StreamProviderPort interface {
	OpenStream(ctx context.Context, input []InputItem, model string) (EventStream, error)
}

// ContextSource retrieves reference snippets related to a query.
type ContextSource interface {
	FetchContext(ctx context.Context, query string) ([]string, error)
}
