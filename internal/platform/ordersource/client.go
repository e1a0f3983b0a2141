package ordersource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	domain "github.com/certified-builder/api/internal/domain"
)

const maxErrorBody = 512

// StatusError is returned when the order source answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ordersource: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("ordersource: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the upstream order source HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

// Option customises the client.
type Option func(*retryablehttp.Client)

// WithLogger routes retry logs to zap.
func WithLogger(logger *zap.Logger) Option {
	return func(c *retryablehttp.Client) {
		if logger != nil {
			c.Logger = leveledLogger{logger: logger.Sugar()}
		}
	}
}

// WithBackoff overrides the retry wait bounds.
func WithBackoff(minWait, maxWait time.Duration) Option {
	return func(c *retryablehttp.Client) {
		if minWait > 0 {
			c.RetryWaitMin = minWait
		}
		if maxWait > 0 {
			c.RetryWaitMax = maxWait
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *retryablehttp.Client) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// New constructs an order source client for baseURL.
func New(baseURL, token string, timeout time.Duration, retryMax int, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ordersource: base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("ordersource: invalid base url: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if retryMax >= 0 {
		rc.RetryMax = retryMax
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	if timeout > 0 {
		rc.HTTPClient.Timeout = timeout
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    rc,
	}, nil
}

// GetOrders lists the orders registered for productID.
func (c *Client) GetOrders(ctx context.Context, productID int) ([]domain.RawOrder, error) {
	query := url.Values{"product_id": {strconv.Itoa(productID)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/orders", query, nil)
	if err != nil {
		return nil, err
	}

	var orders []domain.RawOrder
	if err := c.do(req, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// NotifyCertificate pushes the state of one certificate.
func (c *Client) NotifyCertificate(ctx context.Context, view domain.CertificateView) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/order", nil, view)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// NotifyCertificates pushes the state of many certificates in one call.
func (c *Client) NotifyCertificates(ctx context.Context, views []domain.CertificateView) error {
	if views == nil {
		views = []domain.CertificateView{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/orders", nil, views)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Ping checks that the order source answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/orders", nil)
	if err != nil {
		return fmt.Errorf("ordersource: build request: %w", err)
	}
	resp, err := c.http.StandardClient().Do(req.Request)
	if err != nil {
		return fmt.Errorf("ordersource: ping: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{Method: http.MethodHead, Path: "/orders", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*retryablehttp.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ordersource: encode %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("ordersource: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *retryablehttp.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ordersource: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ordersource: decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
