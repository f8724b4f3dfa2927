package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
)

const (
	headerClientID      = "client_id"
	headerHashCRN       = "hashcrn"
	headerAPIKey        = "x-api-key"
	headerSecondaryKey  = "x-wooliesx-api-key"
	headerUserLocalTime = "userlocaltime"
)

// HTTPError is returned when the final attempt of a call ends with a non-2xx
// status.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// DecodeError is returned when a 2xx body is not the expected JSON.
type DecodeError struct {
	Method string
	Path   string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: decode response: %v", e.Method, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client issues JSON calls with bounded retries. Retries happen only on the
// statuses above and on transport failures; everything else surfaces on the
// first attempt.
type Client struct {
	rc  *resty.Client
	bus *logbus.Bus
}

func newClient(cfg config.ProviderConfig, headers map[string]string, bus *logbus.Bus) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	attempts := cfg.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout()).
		SetCookieJar(jar).
		SetRetryCount(attempts - 1).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(cfg.Retry.MaxWait()).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			attempt := 1
			if r != nil && r.Request != nil && r.Request.Attempt > 0 {
				attempt = r.Request.Attempt
			}
			return cfg.Retry.Backoff(attempt), nil
		}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			if r == nil {
				return true
			}
			return isRetryableStatus(r.StatusCode())
		}).
		SetHeaders(headers)

	if cfg.Proxy != "" {
		rc.SetProxy(cfg.Proxy)
	}

	c := &Client{rc: rc, bus: bus}

	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		c.log("debug", "http request", map[string]any{
			"method":  req.Method,
			"url":     req.URL,
			"attempt": req.Attempt,
		})
		return nil
	})
	rc.AddRetryHook(func(r *resty.Response, err error) {
		fields := map[string]any{}
		if r != nil && r.Request != nil {
			fields["url"] = r.Request.URL
			fields["attempt"] = r.Request.Attempt
			fields["status"] = r.StatusCode()
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.log("warn", "http retry", fields)
	})

	return c, nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		Get(path)
	return c.finish(http.MethodGet, path, resp, err, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body).
		Post(path)
	return c.finish(http.MethodPost, path, resp, err, out)
}

func (c *Client) finish(method, path string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp == nil {
		return fmt.Errorf("%s %s: empty response", method, path)
	}
	if !resp.IsSuccess() {
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       truncate(string(resp.Body()), 256),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &DecodeError{Method: method, Path: path, Err: err}
	}
	return nil
}

func (c *Client) log(level, msg string, fields map[string]any) {
	if c.bus != nil {
		c.bus.Log(level, msg, fields)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
