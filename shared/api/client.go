// shared/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPError is returned for responses with a status code of 400 or above.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
	Method     string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error %d %s from %s %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP error %d %s from %s %s", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL)
}

// Common errors for client usage. Use errors.Is for checking.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("resource conflict")
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInternalError = errors.New("internal server error")
	ErrRateLimited   = errors.New("rate limited")
)

// NewDefaultHTTPClient creates an http.Client with the timeouts every
// outbound client of the network uses.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Client is a JSON client for RESTful APIs. Idempotent requests that fail
// with a network error, 429 or 5xx are retried with exponential backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxTries   uint
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxTries sets how many attempts an idempotent request gets. 1 disables
// retries.
func WithMaxTries(n uint) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// NewClient creates a new API Client. A nil httpClient uses
// NewDefaultHTTPClient.
func NewClient(baseURL string, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = NewDefaultHTTPClient()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxTries:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := c.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, url, err)
		}
		payload = data
	}

	tries := uint(1)
	if idempotent(method) {
		tries = c.maxTries
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, url, payload, result)
	}, backoff.WithBackOff(retry), backoff.WithMaxTries(tries))
	return err
}

// attempt performs one round trip. Errors that cannot succeed on retry are
// marked permanent.
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, result any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create %s request for %s: %w", method, url, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(fmt.Errorf("%s request to %s aborted: %w", method, url, ctxErr))
		}
		return fmt.Errorf("failed to send %s request to %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		httpErr := readHTTPError(resp, url, method)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return httpErr
		}
		return backoff.Permanent(httpErr)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode %s response from %s: %w", method, url, err))
	}
	return nil
}

// readHTTPError builds the error for a failed response, preferring the
// message field of a JSON error body.
func readHTTPError(resp *http.Response, url, method string) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(bodyBytes) == 0 {
		return createHTTPError(resp.StatusCode, "", url, method)
	}
	var errorResponse JSONErrorResponse
	if json.Unmarshal(bodyBytes, &errorResponse) == nil && errorResponse.Message != "" {
		return createHTTPError(resp.StatusCode, errorResponse.Message, url, method)
	}
	if len(bodyBytes) < 500 {
		return createHTTPError(resp.StatusCode, strings.TrimSpace(string(bodyBytes)), url, method)
	}
	return createHTTPError(resp.StatusCode, "", url, method)
}

// createHTTPError wraps the HTTPError with the sentinel of its status class,
// so both errors.Is and errors.As work on the result.
func createHTTPError(statusCode int, message, url, method string) error {
	httpErr := &HTTPError{StatusCode: statusCode, Message: message, URL: url, Method: method}
	var sentinel error
	switch {
	case statusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case statusCode == http.StatusConflict:
		sentinel = ErrConflict
	case statusCode == http.StatusBadRequest:
		sentinel = ErrBadRequest
	case statusCode == http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case statusCode == http.StatusForbidden:
		sentinel = ErrForbidden
	case statusCode == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case statusCode >= 500:
		sentinel = ErrInternalError
	default:
		return httpErr
	}
	return fmt.Errorf("%w: %w", sentinel, httpErr)
}

func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) Post(ctx context.Context, path string, body any, result any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, result)
}

func (c *Client) Put(ctx context.Context, path string, body any, result any) error {
	return c.doRequest(ctx, http.MethodPut, path, body, result)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// IsHTTPError reports whether err carries an HTTPError with the given status.
// Status 0 matches any HTTPError.
func IsHTTPError(err error, status int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return status == 0 || httpErr.StatusCode == status
	}
	return false
}

// GetHTTPStatusCode extracts the status code from an HTTPError if present.
func GetHTTPStatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
