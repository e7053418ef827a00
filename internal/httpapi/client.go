// Package httpapi is the conference backend REST client. Every request
// goes through one FIFO queue, dispatched one at a time with a minimum
// spacing between dispatches.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/confchat/internal/clock"
	"github.com/matheus3301/confchat/internal/credential"
)

const maxResponseBody = 8 << 20

// Config configures a Client. Zero values take the defaults below.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	Credentials credential.Provider
	// MinInterval is the minimum gap between two dispatches. Default 300ms;
	// negative disables spacing.
	MinInterval time.Duration
	// MaxAttempts bounds tries per request for 5xx and transport errors. Default 3.
	MaxAttempts int
	// RetryDelay is the first retry delay, doubled on each further retry. Default 1s.
	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     *zap.Logger
}

type request struct {
	ctx      context.Context
	method   string
	endpoint string
	body     any
	out      any
	done     chan error
}

// Client serializes all requests through a single queue.
type Client struct {
	base        *url.URL
	http        *http.Client
	creds       credential.Provider
	limiter     *rate.Limiter
	maxAttempts int
	retryDelay  time.Duration
	clock       clock.Clock
	log         *zap.Logger

	mu       sync.Mutex
	queue    []*request
	draining bool
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 300 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{
		base:        base,
		http:        cfg.HTTPClient,
		creds:       cfg.Credentials,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		clock:       clock.OrReal(cfg.Clock),
		log:         cfg.Logger,
	}, nil
}

// Do enqueues a request and waits for its turn and result. body, when
// non-nil, is sent as JSON; the response is decoded into out when out is
// non-nil. A request whose ctx ends before dispatch is skipped.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) error {
	r := &request{
		ctx:      ctx,
		method:   method,
		endpoint: endpoint,
		body:     body,
		out:      out,
		done:     make(chan error, 1),
	}
	c.enqueue(r)
	return <-r.done
}

// Pending returns the number of queued requests not yet dispatched.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) enqueue(r *request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, r)
	if !c.draining {
		c.draining = true
		go c.drain()
	}
}

func (c *Client) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		r := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		r.done <- c.run(r)
	}
}

func (c *Client) run(r *request) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if err := c.limiter.Wait(r.ctx); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			c.log.Warn("retrying request",
				zap.String("method", r.method),
				zap.String("endpoint", r.endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-c.clock.After(delay):
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
			// A retry is a dispatch too and keeps the minimum spacing.
			if err := c.limiter.Wait(r.ctx); err != nil {
				return err
			}
		}
		err = c.send(r)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (c *Client) send(r *request) error {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(r.ctx, r.method, c.resolve(r.endpoint), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		token, err := c.creds.Token(r.ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case !errors.Is(err, credential.ErrNoToken):
			return fmt.Errorf("credentials: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", r.endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}
	if r.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, r.out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.endpoint, err)
	}
	return nil
}

// resolve joins endpoint, which may carry a query string, onto the base URL.
func (c *Client) resolve(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.base.String() + endpoint
}
