package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 * 1024

// postJSON sends body as JSON and returns the raw 2xx response body.
// Non-2xx responses become *HTTPError, failed round trips *TransportError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       errorBody(raw),
		}
	}

	return io.ReadAll(resp.Body)
}

func errorBody(raw []byte) string {
	var pretty bytes.Buffer
	if json.Valid(raw) && json.Indent(&pretty, raw, "", "  ") == nil {
		return pretty.String()
	}
	return strings.TrimSpace(string(raw))
}

func decodeJSON(provider string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &ResponseError{Provider: provider, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	return nil
}
