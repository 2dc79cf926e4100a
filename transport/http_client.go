package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPClient performs single outbound HTTP exchanges. Any status code is a
// response; only failures to exchange bytes are errors.
type HTTPClient struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewHTTPClient(client HTTPDoer) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPClient{
		Client:               client,
		DefaultHeaders:       map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (c *HTTPClient) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.Client == nil {
		return Response{}, core.NewInternalError("transport: http client is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	rawURL := strings.TrimSpace(req.URL)
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Response{}, invalidRequest("transport: invalid request url", err, map[string]any{"url": rawURL})
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return Response{}, invalidRequest("transport: request url must be absolute", nil, map[string]any{"url": rawURL})
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, invalidRequest("transport: create http request", err, map[string]any{"method": method, "url": parsedURL.String()})
	}
	setHeaders(httpReq.Header, c.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)

	startedAt := time.Now()
	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		return Response{}, exchangeFailed("transport: execute http request", err, map[string]any{"method": method, "url": parsedURL.String()})
	}
	defer httpRes.Body.Close()

	limit := resolveResponseBodyLimit(req.MaxResponseBodyBytes, c.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, exchangeFailed("transport: read response body", err, map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(body)) > limit {
		return Response{}, exchangeFailed(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			nil,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit},
		)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

func setHeaders(dst http.Header, headers map[string]string) {
	for key, value := range headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		dst.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, clientLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if clientLimit > 0 {
		return clientLimit
	}
	return defaultResponseBodyLimit
}
