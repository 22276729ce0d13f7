package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// MockClient is a Provider that synthesises event streams locally.
type MockClient struct {
	// ChunkSize is the number of bytes of content per stream chunk.
	ChunkSize int
	// Delay is slept between chunks.
	Delay time.Duration
}

// NewMockClient creates a new mock provider.
func NewMockClient() *MockClient {
	return &MockClient{ChunkSize: 10}
}

// Ensure MockClient implements Provider interface.
var _ Provider = (*MockClient)(nil)

// OpenStream writes an OpenAI style event stream into a pipe.
func (m *MockClient) OpenStream(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	content := m.generateMockResponse(req)
	pr, pw := io.Pipe()

	go func() {
		id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
		created := time.Now().Unix()
		stop := "stop"

		chunks := splitIntoChunks(content, m.ChunkSize)
		for i, text := range chunks {
			if m.Delay > 0 {
				select {
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				case <-time.After(m.Delay):
				}
			}

			chunk := StreamChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{Content: text}}},
			}
			if i == 0 {
				chunk.Choices[0].Delta.Role = string(domain.RoleAssistant)
			}
			if i == len(chunks)-1 {
				chunk.Choices[0].FinishReason = &stop
			}

			data, err := json.Marshal(chunk)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := fmt.Fprintf(pw, "data: %s\n\n", data); err != nil {
				return
			}
		}
		fmt.Fprint(pw, "data: [DONE]\n\n")
		pw.Close()
	}()

	return pr, nil
}

// ListModels returns a list of mock models.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{ID: "mock-gpt-4o-mini", Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"},
	}, nil
}

// generateMockResponse echoes the last user message.
func (m *MockClient) generateMockResponse(req *CompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the completion provider."
	}

	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	if len(s) == 0 {
		return []string{""}
	}

	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
