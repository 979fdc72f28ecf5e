package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// APIError is returned for any non-2xx response that was not retried away.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

// IsNotFound reports whether err carries a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	UserAgent  string
	// Component is used as the log prefix, e.g. "Notion".
	Component string
}

// Client performs JSON requests with retry on throttling, 5xx and
// transient transport failures.
type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string
	component  string
}

// Request describes a single API call.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        any
	ContentType string
	// Idempotent marks a POST that is safe to repeat, such as a query.
	// Other POSTs are retried only on 429, since a timed out or failed
	// request may still have been applied.
	Idempotent bool
}

func (r Request) replayable() bool {
	return r.Idempotent || r.Method != http.MethodPost
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	component := strings.TrimSpace(opts.Component)
	if component == "" {
		component = "REST"
	}
	return &Client{
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		component:  component,
	}
}

// Do sends req and decodes a successful JSON response into out (when non-nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var bodyBytes []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		bodyBytes = encoded
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return err
		}
		for key, values := range req.Header {
			for _, value := range values {
				httpReq.Header.Add(key, value)
			}
		}
		if bodyBytes != nil {
			httpReq.Header.Set("Content-Type", contentType)
		}
		httpReq.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() == nil && req.replayable() && isRetryableError(err) && attempt < c.maxRetries {
				log.Printf("[%s] %s %s transport error on attempt %d/%d: %v", c.component, req.Method, req.URL, attempt+1, c.maxRetries+1, err)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		if shouldRetryStatus(req, resp.StatusCode) && attempt < c.maxRetries {
			log.Printf("[%s] %s %s returned %d on attempt %d/%d, retrying", c.component, req.Method, req.URL, resp.StatusCode, attempt+1, c.maxRetries+1)
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return decodeAPIError(resp.StatusCode, resp.Status, respBody)
	}
}

func decodeAPIError(status int, statusText string, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		// Notion uses code/message, Azure DevOps uses typeKey/message.
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		} else if code, ok := parsed["typeKey"].(string); ok {
			apiErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			apiErr.Message = message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = statusText
	}
	return apiErr
}

func shouldRetryStatus(req Request, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return req.replayable() && isRetryableStatus(status)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
