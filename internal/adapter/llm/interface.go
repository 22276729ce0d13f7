// Package llm provides clients for the upstream completion provider.
package llm

import (
	"context"
	"io"
)

// Provider defines the upstream completion operations the relay needs.
type Provider interface {
	// OpenStream starts a streaming chat completion and returns the raw
	// event-stream body. The caller must close it.
	OpenStream(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)

	// ListModels retrieves the list of available models.
	ListModels(ctx context.Context) ([]Model, error)
}

// Ensure Client implements Provider interface.
var _ Provider = (*Client)(nil)
