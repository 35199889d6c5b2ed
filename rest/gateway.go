package rest

import (
	"context"
	"net/http"
	"time"
)

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"` // milliseconds
	MaxConcurrency int `json:"max_concurrency"`
}

func (l SessionStartLimit) ResetIn() time.Duration {
	return time.Duration(l.ResetAfter) * time.Millisecond
}

type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GetGatewayBot returns the gateway URL along with the recommended shard count.
func (d *Dispatcher) GetGatewayBot(ctx context.Context) (GatewayBot, error) {
	var gateway GatewayBot
	err := d.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/gateway/bot",
	}, &gateway)

	return gateway, err
}
