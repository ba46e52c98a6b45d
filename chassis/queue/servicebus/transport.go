package servicebus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// transport is the HTTP client shared by a broker and the messages it mints.
type transport struct {
	client  *http.Client
	baseURL string
	tokens  *TokenProvider
}

// buildPath escapes the queue name as a single segment; path must already
// be escaped.
func buildPath(queueName, path string) string {
	return fmt.Sprintf("/%s/%s", url.PathEscape(strings.Trim(queueName, "/")), strings.Trim(path, "/"))
}

// do sends a request against <queue>/<path> with a fresh Authorization
// header. The response body is read and closed before returning.
func (t *transport) do(ctx context.Context, method, queueName, path string, payload interface{}) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+buildPath(queueName, path), body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", t.tokens.Token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, raw, nil
}
