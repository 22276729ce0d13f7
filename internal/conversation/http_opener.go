package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 << 10

// HTTPOpener opens relay streams with POST /api/chat.
type HTTPOpener struct {
	URL    string
	Client *http.Client
	// Header is added to every request, e.g. X-Org-ID or X-Session-ID.
	Header http.Header
}

// NewHTTPOpener creates an opener for the relay at baseURL.
func NewHTTPOpener(baseURL string) *HTTPOpener {
	return &HTTPOpener{
		URL: strings.TrimRight(baseURL, "/") + "/api/chat",
		// No client timeout: streams stay open as long as the relay sends.
		Client: &http.Client{},
		Header: make(http.Header),
	}
}

var _ Opener = (*HTTPOpener)(nil)

// Open posts req and returns the event-stream body. Non-2xx responses become
// a *domain.RelayError carrying the relay's error text.
func (o *HTTPOpener) Open(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range o.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, domain.NewUpstreamFailure("relay request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, domain.FromRelayStatus(resp.StatusCode, readErrorBody(resp.Body))
	}
	return resp.Body, nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var eb domain.ErrorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(data))
}
