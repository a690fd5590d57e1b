package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/expression"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// IdempotencyHeader carries the run scoped idempotency key on outgoing requests
const IdempotencyHeader = "Idempotency-Key"

const maxResponseBody = 10 << 20

// HTTPConnector issues the configured request. 2xx succeeds with the response
// body, 5xx and network errors are retryable, anything else is fatal.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector creates an HTTP connector; a nil client uses http.DefaultClient
func NewHTTPConnector(client *http.Client) *HTTPConnector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPConnector{client: client}
}

// Ports implements Connector
func (c *HTTPConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (c *HTTPConnector) Execute(ctx context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.HTTPAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}

	req, err := c.buildRequest(ctx, inv, data)
	if err != nil {
		return Fatal(err)
	}

	if data.TimeoutMs > 0 {
		reqCtx, cancel := context.WithTimeout(req.Context(), time.Duration(data.TimeoutMs)*time.Millisecond)
		defer cancel()
		req = req.WithContext(reqCtx)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Retryable(fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Retryable(fmt.Errorf("failed to read response from %s: %w", req.URL.Redacted(), err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success(decodeBody(resp.Header.Get("Content-Type"), raw), "")
	case resp.StatusCode >= 500:
		return Retryable(statusError(req, resp, raw))
	default:
		return Fatal(statusError(req, resp, raw))
	}
}

func (c *HTTPConnector) buildRequest(ctx context.Context, inv Invocation, data *workflow.HTTPAction) (*http.Request, error) {
	scope := inv.Scope()

	method := strings.ToUpper(data.Method)
	if method == "" {
		method = http.MethodGet
	}

	url, err := expression.Interpolate(data.URL, scope)
	if err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}

	var body io.Reader
	contentType := ""
	if data.Body != nil {
		switch b := data.Body.(type) {
		case string:
			s, err := expression.Interpolate(b, scope)
			if err != nil {
				return nil, fmt.Errorf("body: %w", err)
			}
			body = strings.NewReader(s)
			if json.Valid([]byte(s)) {
				contentType = "application/json"
			}
		default:
			v, err := expression.InterpolateValue(b, scope)
			if err != nil {
				return nil, fmt.Errorf("body: %w", err)
			}
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode body: %w", err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range data.Headers {
		hv, err := expression.Interpolate(v, scope)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", k, err)
		}
		req.Header.Set(k, hv)
	}
	if key, ok := workflow.IdempotencyKeyFromContext(ctx); ok && req.Header.Get(IdempotencyHeader) == "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req, nil
}

// decodeBody returns parsed JSON when the payload is JSON, the text otherwise
func decodeBody(contentType string, raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") || json.Valid(raw) {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func statusError(req *http.Request, resp *http.Response, raw []byte) error {
	snippet := strings.TrimSpace(string(raw))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	if snippet == "" {
		return fmt.Errorf("%s %s returned %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Redacted(), resp.StatusCode, snippet)
}
