// Package transport performs webhook POSTs for the delivery handler.
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

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outbound/core"
)

const (
	defaultHTTPTimeout             = 10 * time.Second
	defaultResponseBodyLimit int64 = 64 << 10
	defaultUserAgent               = "go-outbound/1"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender POSTs delivery bodies. Any response, including non-2xx, is
// returned without error; only transport failures are errors.
type HTTPSender struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Timeout              time.Duration
}

// NewHTTPClient returns a client that reports redirects as responses. A
// followed 302/303 would replay the delivery as a bodiless GET.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func NewHTTPSender(client HTTPDoer) *HTTPSender {
	if client == nil {
		client = NewHTTPClient(defaultHTTPTimeout)
	}
	return &HTTPSender{
		Client: client,
		DefaultHeaders: map[string]string{
			"User-Agent": defaultUserAgent,
		},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (s *HTTPSender) Send(ctx context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	if s == nil || s.Client == nil {
		return core.DeliveryResponse{}, transportError(
			"transport: http sender requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}

	target := strings.TrimSpace(req.URL)
	parsedURL, err := url.Parse(target)
	if err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid delivery url",
			http.StatusBadRequest,
			map[string]any{"url": target},
		)
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return core.DeliveryResponse{}, transportError(
			"transport: delivery url must be absolute http(s)",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"url": target},
		)
	}

	requestCtx := ctx
	cancel := func() {}
	if s.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"url": parsedURL.String()},
		)
	}
	for key, value := range s.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpRes, err := s.Client.Do(httpReq)
	if err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"url": parsedURL.String()},
		)
	}
	defer httpRes.Body.Close()

	limit := s.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	// Oversized receiver bodies are truncated and the rest is not read; the
	// status code decides the outcome.
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit))
	if err != nil {
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"url": parsedURL.String(), "status_code": httpRes.StatusCode},
		)
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key := range httpRes.Header {
		headers[key] = httpRes.Header.Get(key)
	}
	return core.DeliveryResponse{
		StatusCode: httpRes.StatusCode,
		Body:       body,
		Headers:    headers,
	}, nil
}

// StatusError builds the error the delivery handler returns for a non-2xx
// response.
func StatusError(target string, res core.DeliveryResponse) error {
	snippet := strings.TrimSpace(string(res.Body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	metadata := map[string]any{
		"url":         target,
		"status_code": res.StatusCode,
	}
	if snippet != "" {
		metadata["response"] = snippet
	}
	return transportError(
		fmt.Sprintf("transport: receiver returned status %d", res.StatusCode),
		goerrors.CategoryExternal,
		http.StatusBadGateway,
		metadata,
	)
}

var _ core.Sender = (*HTTPSender)(nil)
