// Package http is the resty-based transport shared by exchange adapters.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"nakula/pkg/core"
)

type Client struct {
	client *resty.Client
	logger zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

type Config struct {
	BaseURL      string            `validate:"required,url"`
	Timeout      time.Duration     `validate:"min=1ms"`
	MaxRetries   int               `validate:"min=0"`
	RetryWaitMin time.Duration     `validate:"min=0"`
	RetryWaitMax time.Duration     `validate:"min=0"`
	Headers      map[string]string `validate:"omitempty"`
}

// ConfigFrom takes the transport settings of a session config. baseURL is
// used unless the session config overrides it.
func ConfigFrom(cfg *core.Config, baseURL string) *Config {
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	return &Config{
		BaseURL:      baseURL,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
	}
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

type RequestOption func(*resty.Request)

var validate = validator.New()

func NewClient(config *Config, opts ...Option) (*Client, error) {
	if err := validate.Struct(config); err != nil {
		return nil, core.NewError(core.ErrorTypeInvalidConfig, "invalid http config").
			WithCode(core.ErrCodeInvalidConfig).
			Wrap(err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(config.MaxRetries)
	client.SetRetryWaitTime(config.RetryWaitMin)
	client.SetRetryMaxWaitTime(config.RetryWaitMax)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	c := &Client{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Msg("http response")
		return nil
	})

	return c, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Do sends a described request. Query values are added as query parameters.
func (c *Client) Do(ctx context.Context, r *core.Request, opts ...RequestOption) (*resty.Response, error) {
	opts = append([]RequestOption{WithQueryParams(r.Query)}, opts...)
	switch r.Method {
	case http.MethodGet, "":
		return c.Get(ctx, r.Path, opts...)
	case http.MethodDelete:
		return c.Delete(ctx, r.Path, opts...)
	case http.MethodPost:
		return c.Post(ctx, r.Path, nil, opts...)
	}
	return nil, fmt.Errorf("unsupported method %s", r.Method)
}

func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.ErrClientClosed
	}

	req := c.client.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}
	return req.Get(url)
}

func (c *Client) Post(ctx context.Context, url string, body any, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.ErrClientClosed
	}

	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	for _, opt := range opts {
		opt(req)
	}
	return req.Post(url)
}

func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.ErrClientClosed
	}

	req := c.client.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}
	return req.Delete(url)
}

func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func WithQueryParam(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) > 0 {
			r.SetQueryParams(params)
		}
	}
}
