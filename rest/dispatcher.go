// Package rest sends HTTP API requests through one FIFO queue per rate limit route, so
// requests on a route never run concurrently and a throttled route holds back only itself.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TicketsBot/shardkit/snowflake"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL            = "https://discord.com/api/v6"
	DefaultUserAgent          = "DiscordBot (https://github.com/TicketsBot/shardkit, 1.0.0)"
	DefaultMaxThrottleRetries = 1
	DefaultTimeout            = 30 * time.Second
)

type Dispatcher struct {
	token     string
	baseURL   string
	userAgent string
	client    *http.Client
	routeKey  RouteKeyFunc

	maxThrottleRetries int
	retryAfterUnit     time.Duration
	globalLimiter      *rate.Limiter

	ids *snowflake.Generator

	routes     map[string]*routeQueue
	routesLock sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Dispatcher)

func WithBaseURL(baseURL string) Option {
	return func(d *Dispatcher) {
		d.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func WithRouteKeyFunc(fn RouteKeyFunc) Option {
	return func(d *Dispatcher) {
		d.routeKey = fn
	}
}

// WithMaxThrottleRetries sets how many times a request answered with 429 is replayed
// before failing with a ThrottleError. Zero disables replays.
func WithMaxThrottleRetries(retries int) Option {
	return func(d *Dispatcher) {
		if retries >= 0 {
			d.maxThrottleRetries = retries
		}
	}
}

// WithGlobalLimit caps the request rate across every route.
func WithGlobalLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		d.globalLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithUserAgent(userAgent string) Option {
	return func(d *Dispatcher) {
		d.userAgent = userAgent
	}
}

// WithRetryAfterUnit sets the unit of the retry_after field in 429 bodies. API v6 sends
// milliseconds, later versions send seconds.
func WithRetryAfterUnit(unit time.Duration) Option {
	return func(d *Dispatcher) {
		d.retryAfterUnit = unit
	}
}

// WithIdGenerator sets the generator used to tag requests in logs.
func WithIdGenerator(generator *snowflake.Generator) Option {
	return func(d *Dispatcher) {
		d.ids = generator
	}
}

func NewDispatcher(token string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		token:              token,
		baseURL:            DefaultBaseURL,
		userAgent:          DefaultUserAgent,
		client:             &http.Client{Timeout: DefaultTimeout},
		routeKey:           ParentResourceRoute,
		maxThrottleRetries: DefaultMaxThrottleRetries,
		retryAfterUnit:     time.Millisecond,
		ids:                snowflake.NewGenerator(0, 0),
		routes:             make(map[string]*routeQueue),
		done:               make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Enqueue appends the request to its route's queue and blocks until it has been executed,
// returning the raw response body. A 204 yields a nil body.
func (d *Dispatcher) Enqueue(ctx context.Context, request Request) (json.RawMessage, error) {
	select {
	case <-d.done:
		return nil, ErrClosed
	default:
	}

	p, err := newPendingRequest(ctx, d.ids.Next(), request)
	if err != nil {
		return nil, err
	}

	d.route(d.routeKey(request)).push(p)

	select {
	case res := <-p.result:
		return res.body, res.err
	case <-ctx.Done():
		// the queue drops the request if it has not started yet
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrClosed
	}
}

// Do enqueues the request and decodes the response body into out, if out is non-nil.
func (d *Dispatcher) Do(ctx context.Context, request Request, out interface{}) error {
	body, err := d.Enqueue(ctx, request)
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	return json.Unmarshal(body, out)
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.client.CloseIdleConnections()
	})
}

func (d *Dispatcher) route(key string) *routeQueue {
	d.routesLock.Lock()
	defer d.routesLock.Unlock()

	queue, ok := d.routes[key]
	if !ok {
		queue = newRouteQueue(key, d)
		d.routes[key] = queue
	}

	return queue
}

func (d *Dispatcher) send(p *pendingRequest) (*http.Response, error) {
	endpoint := d.baseURL + p.request.Path
	if len(p.request.Query) > 0 {
		endpoint += "?" + p.request.Query.Encode()
	}

	var body *bytes.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}

	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(p.ctx, p.request.Method, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(p.ctx, p.request.Method, endpoint, body)
	}
	if err != nil {
		return nil, err
	}

	if d.token != "" {
		req.Header.Set("Authorization", "Bot "+d.token)
	}

	req.Header.Set("User-Agent", d.userAgent)

	if p.contentType != "" {
		req.Header.Set("Content-Type", p.contentType)
	}

	if p.request.Reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(p.request.Reason))
	}

	res, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logrus.Debugf("request %s: cancelled", p.id)
		}

		return nil, err
	}

	return res, nil
}
