// Package api предоставляет клиент REST API сервиса детских книг.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client инкапсулирует HTTP-взаимодействие с API сервиса.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	token      func() string
}

// Option настраивает клиент.
type Option func(*Client)

// WithTransport задаёт транспорт, через который проходят все запросы.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit ограничивает число запросов в секунду. Нулевое значение отключает ограничение.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithTokenSource задаёт функцию, возвращающую текущий токен доступа.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

// NewClient создаёт HTTP-клиент для обращения к API по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope описывает общую обёртку ответов API.
type envelope struct {
	Success              bool              `json:"success"`
	Data                 json.RawMessage   `json:"data"`
	Message              string            `json:"message"`
	Code                 string            `json:"code"`
	Errors               map[string]string `json:"errors"`
	RequiresConfirmation bool              `json:"requiresConfirmation"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 400 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		return newError(resp.StatusCode, env)
	}

	if !env.Success && len(raw) > 0 && resp.StatusCode != http.StatusNoContent {
		return newError(resp.StatusCode, env)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}

	return nil
}

func newError(status int, env envelope) *Error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{
		Status:               status,
		Code:                 env.Code,
		Message:              msg,
		Fields:               env.Errors,
		ConfirmationRequired: env.RequiresConfirmation,
		Data:                 env.Data,
	}
}
