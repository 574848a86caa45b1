package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"dozer/internal/lifecycle"
)

// DefaultClientTimeout covers a full wake budget plus engine readiness.
const DefaultClientTimeout = 2 * time.Minute

// Client talks to a dozerd API.
type Client struct {
	base    string
	timeout time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), timeout: DefaultClientTimeout}
}

// WithTimeout returns a copy of c bounded by d per request.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.timeout = d
	return &cp
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	code, body, err := c.do(ctx, fiber.Get(c.base+"/api/v1/status"))
	if err != nil {
		return out, err
	}
	if code != fiber.StatusOK {
		return out, apiError(code, body)
	}
	return out, decode(body, &out)
}

func (c *Client) Containers(ctx context.Context) ([]string, error) {
	var out ContainerList
	code, body, err := c.do(ctx, fiber.Get(c.base+"/api/v1/containers"))
	if err != nil {
		return nil, err
	}
	if code != fiber.StatusOK {
		return nil, apiError(code, body)
	}
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	return out.Containers, nil
}

// Start asks the daemon to start name. Rejections come back as a Result,
// not an error; err is reserved for transport and protocol failures.
func (c *Client) Start(ctx context.Context, name string) (lifecycle.Result, error) {
	return c.intent(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (lifecycle.Result, error) {
	return c.intent(ctx, name, "stop")
}

// Trigger requests an immediate monitor cycle. It reports false when one
// was already queued.
func (c *Client) Trigger(ctx context.Context) (bool, error) {
	var out TriggerResponse
	code, body, err := c.do(ctx, fiber.Post(c.base+"/api/v1/monitor/trigger"))
	if err != nil {
		return false, err
	}
	if code != fiber.StatusAccepted {
		return false, apiError(code, body)
	}
	if err := decode(body, &out); err != nil {
		return false, err
	}
	return out.Queued, nil
}

func (c *Client) intent(ctx context.Context, name, action string) (lifecycle.Result, error) {
	var res lifecycle.Result
	target := fmt.Sprintf("%s/api/v1/containers/%s/%s", c.base, url.PathEscape(name), action)
	code, body, err := c.do(ctx, fiber.Post(target))
	if err != nil {
		return res, err
	}
	if err := decode(body, &res); err != nil || res.Kind == "" {
		return res, apiError(code, body)
	}
	if want := StatusCode(res.Kind); want != code {
		return res, fmt.Errorf("%s %s: unexpected status %d for %s", action, name, code, res.Kind)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, a *fiber.Agent) (int, []byte, error) {
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	code, body, errs := a.Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return 0, nil, fmt.Errorf("call dozerd: %w", errors.Join(errs...))
	}
	return code, body, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(code int, body []byte) error {
	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("dozerd returned %d: %s", code, e.Error)
	}
	return fmt.Errorf("dozerd returned %d", code)
}
