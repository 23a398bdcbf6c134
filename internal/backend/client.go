package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrorMessage carries a backend failure together with the HTTP status the
// gateway should surface to its own client.
type ErrorMessage struct {
	// StatusCode is the status to return to the gateway client.
	StatusCode int

	// Code is the machine-readable error code for the OpenAI envelope.
	Code string

	// Error is the underlying failure.
	Error error
}

// Client forwards raw OpenAI-style JSON requests to one backend at a time.
// Bodies stay as []byte end to end; no intermediate structs on the hot path.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient builds a forwarding client with the given per-request deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		// The deadline is enforced per request through the context so that
		// streaming responses are not cut off by a transport-level timeout.
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Post forwards a non-streaming request to {baseURL}{endpoint} and returns
// the response body. Backend 4xx responses relay their status with the body
// remapped to the OpenAI error envelope; 5xx and transport failures map to
// 503, deadline expiry to 504.
func (c *Client) Post(ctx context.Context, baseURL, endpoint string, rawJSON []byte) ([]byte, *ErrorMessage) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, errMsg := c.send(ctx, baseURL, endpoint, rawJSON, false)
	if errMsg != nil {
		return nil, errMsg
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ErrorMessage{StatusCode: http.StatusGatewayTimeout, Code: "backend_timeout", Error: err}
		}
		return nil, &ErrorMessage{StatusCode: http.StatusServiceUnavailable, Code: "backend_unavailable", Error: err}
	}
	return body, nil
}

// PostStream forwards a streaming request and emits each SSE data payload on
// the returned channel. The channel closes when the backend sends [DONE] or
// the stream ends; failures arrive on the error channel.
func (c *Client) PostStream(ctx context.Context, baseURL, endpoint string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	dataTag := []byte("data: ")
	dataUglyTag := []byte("data:") // some backends omit the space after "data:"
	doneTag := []byte("[DONE]")

	dataChan := make(chan []byte)
	// At most one error is ever sent per stream. The buffer lets the producer
	// drop its error and exit even when the consumer abandoned both channels
	// after a client disconnect.
	errChan := make(chan *ErrorMessage, 1)

	go func() {
		defer close(dataChan)
		defer close(errChan)

		streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		rawJSON, _ = sjson.SetBytes(rawJSON, "stream", true)

		resp, errMsg := c.send(streamCtx, baseURL, endpoint, rawJSON, true)
		if errMsg != nil {
			select {
			case errChan <- errMsg:
			default:
			}
			return
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			var payload []byte
			if bytes.HasPrefix(line, dataTag) {
				payload = line[len(dataTag):]
			} else if bytes.HasPrefix(line, dataUglyTag) {
				payload = line[len(dataUglyTag):]
			} else {
				continue
			}
			if bytes.Equal(bytes.TrimSpace(payload), doneTag) {
				return
			}
			select {
			case dataChan <- bytes.Clone(payload):
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := &ErrorMessage{StatusCode: http.StatusServiceUnavailable, Code: "backend_unavailable", Error: err}
			if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
				errMsg = &ErrorMessage{StatusCode: http.StatusGatewayTimeout, Code: "backend_timeout", Error: err}
			}
			select {
			case errChan <- errMsg:
			default:
			}
		}
	}()

	return dataChan, errChan
}

// send issues the POST and classifies non-2xx responses. POST bodies are
// never retried: a chat completion with tool side effects is not idempotent.
func (c *Client) send(ctx context.Context, baseURL, endpoint string, rawJSON []byte, stream bool) (*http.Response, *ErrorMessage) {
	url := baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rawJSON))
	if err != nil {
		return nil, &ErrorMessage{StatusCode: http.StatusInternalServerError, Code: "internal_error", Error: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ErrorMessage{StatusCode: http.StatusGatewayTimeout, Code: "backend_timeout", Error: fmt.Errorf("backend request timed out: %w", err)}
		}
		return nil, &ErrorMessage{StatusCode: http.StatusServiceUnavailable, Code: "backend_unavailable", Error: fmt.Errorf("backend unreachable: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	log.Debugf("backend %s returned %d: %s", baseURL, resp.StatusCode, string(body))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &ErrorMessage{
			StatusCode: resp.StatusCode,
			Code:       "invalid_request",
			Error:      errors.New(remapToOpenAIError(body, resp.StatusCode)),
		}
	}
	return nil, &ErrorMessage{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "backend_unavailable",
		Error:      fmt.Errorf("backend returned %d", resp.StatusCode),
	}
}

// remapToOpenAIError ensures a backend error body follows the OpenAI error
// envelope. Bodies that already carry an "error" object pass through.
func remapToOpenAIError(body []byte, statusCode int) string {
	if gjson.GetBytes(body, "error").IsObject() {
		return string(body)
	}
	message := string(bytes.TrimSpace(body))
	if message == "" {
		message = fmt.Sprintf("backend returned %d", statusCode)
	}
	out := `{"error":{"message":"","type":"invalid_request_error"}}`
	out, _ = sjson.Set(out, "error.message", message)
	return out
}
