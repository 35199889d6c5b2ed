package forwarding

import (
	"encoding/json"

	"github.com/TicketsBot/common/eventforwarding"
	"github.com/go-redis/redis"
)

type RedisOptions struct {
	Addr     string
	Password string
	Threads  int
}

type RedisPusher struct {
	client *redis.Client
}

// NewRedisPusher connects to Redis and checks the connection.
func NewRedisPusher(options RedisOptions) (*RedisPusher, error) {
	client := redis.NewClient(&redis.Options{
		Network:      "tcp",
		Addr:         options.Addr,
		Password:     options.Password,
		PoolSize:     options.Threads,
		MinIdleConns: options.Threads,
	})

	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisPusher{client: client}, nil
}

// Push goes through eventforwarding when nothing needs trimming, so events land exactly
// where eventforwarding.Listen expects them.
func (p *RedisPusher) Push(key string, event eventforwarding.Event, max int64) error {
	if key == DefaultKey && max <= 0 {
		return eventforwarding.ForwardEvent(p.client, event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.client.Pipelined(func(pipe redis.Pipeliner) error {
		pipe.RPush(key, payload)
		if max > 0 {
			pipe.LTrim(key, -max, -1)
		}

		return nil
	})

	return err
}

func (p *RedisPusher) Close() error {
	return p.client.Close()
}
