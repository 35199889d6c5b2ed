package rest

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// routeQueue executes the requests of one bucket strictly one at a time in FIFO order.
// While a drain goroutine is running the route is busy; it stays busy through any
// rate limit wait so nothing on this route overtakes a throttled request.
type routeQueue struct {
	key        string
	dispatcher *Dispatcher

	mu              sync.Mutex
	pending         []*pendingRequest
	busy            bool
	nextAvailableAt time.Time
}

func newRouteQueue(key string, dispatcher *Dispatcher) *routeQueue {
	return &routeQueue{
		key:        key,
		dispatcher: dispatcher,
	}
}

func (q *routeQueue) push(p *pendingRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, p)
	if !q.busy {
		q.busy = true
		go q.drain()
	}
}

// pushFront puts a throttled request back at the head of the queue. Only the drain
// goroutine calls it.
func (q *routeQueue) pushFront(p *pendingRequest) {
	q.mu.Lock()
	q.pending = append([]*pendingRequest{p}, q.pending...)
	q.mu.Unlock()
}

func (q *routeQueue) deferUntil(t time.Time) {
	q.mu.Lock()
	if t.After(q.nextAvailableAt) {
		q.nextAvailableAt = t
	}
	q.mu.Unlock()
}

func (q *routeQueue) drain() {
	for {
		select {
		case <-q.dispatcher.done:
			q.rejectAll(ErrClosed)
			return
		default:
		}

		q.mu.Lock()
		if wait := time.Until(q.nextAvailableAt); wait > 0 && len(q.pending) > 0 {
			q.mu.Unlock()

			select {
			case <-time.After(wait):
			case <-q.dispatcher.done:
				q.rejectAll(ErrClosed)
				return
			}

			continue
		}

		if len(q.pending) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}

		p := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(p)
	}
}

func (q *routeQueue) rejectAll(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.busy = false
	q.mu.Unlock()

	for _, p := range pending {
		p.resolve(nil, err)
	}
}

func (q *routeQueue) execute(p *pendingRequest) {
	if err := p.ctx.Err(); err != nil {
		p.resolve(nil, err)
		return
	}

	if limiter := q.dispatcher.globalLimiter; limiter != nil {
		if err := limiter.Wait(p.ctx); err != nil {
			p.resolve(nil, err)
			return
		}
	}

	p.attempts++
	logrus.Debugf("request %s: %s %s (route %s, attempt %d)", p.id, p.request.Method, p.request.Path, q.key, p.attempts)

	res, err := q.dispatcher.send(p)
	if err != nil {
		p.resolve(nil, &TransportError{Err: err})
		return
	}

	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		p.resolve(nil, &TransportError{Err: err})
		return
	}

	// an exhausted bucket holds back the next request, not this one
	if res.Header.Get("x-ratelimit-remaining") == "0" {
		if resetAfter, ok := parseSeconds(res.Header.Get("x-ratelimit-reset-after")); ok {
			q.deferUntil(time.Now().Add(resetAfter))
		}
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		throttle := q.dispatcher.parseThrottle(res.Header, body)
		q.deferUntil(time.Now().Add(throttle.RetryAfter))

		if p.attempts <= q.dispatcher.maxThrottleRetries {
			logrus.Warnf("request %s: rate limited on route %s, retrying in %s", p.id, q.key, throttle.RetryAfter)
			q.pushFront(p)
			return
		}

		p.resolve(nil, throttle)
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if res.StatusCode == http.StatusNoContent || len(body) == 0 {
			p.resolve(nil, nil)
		} else {
			p.resolve(body, nil)
		}
	default:
		p.resolve(nil, newAPIError(res.StatusCode, body))
	}
}

func (d *Dispatcher) parseThrottle(header http.Header, body []byte) *ThrottleError {
	throttle := &ThrottleError{
		Global: header.Get("x-ratelimit-global") == "true",
	}

	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err == nil {
		throttle.Message = decoded.Message
		throttle.Global = throttle.Global || decoded.Global
		if decoded.RetryAfter > 0 {
			throttle.RetryAfter = time.Duration(decoded.RetryAfter * float64(d.retryAfterUnit))
		}
	}

	if throttle.RetryAfter == 0 {
		if retryAfter, ok := parseSeconds(header.Get("Retry-After")); ok {
			throttle.RetryAfter = retryAfter
		}
	}

	return throttle
}

func parseSeconds(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}

	return time.Duration(seconds * float64(time.Second)), true
}
