package main

import (
	"context"
	"errors"

	"github.com/TicketsBot/shardkit/config"
	"github.com/TicketsBot/shardkit/forwarding"
	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/rest"
	"github.com/TicketsBot/shardkit/sessionstore"
	"github.com/sirupsen/logrus"
)

// pool is a ShardManager with the sinks configured for it.
type pool struct {
	manager    *gateway.ShardManager
	dispatcher *rest.Dispatcher
	store      *sessionstore.PgStore
	pusher     *forwarding.RedisPusher
	handlers   []func(gateway.Event)
}

func newPool(ctx context.Context, cfg *config.Config) (_ *pool, err error) {
	if err := gateway.SetEncoding(cfg.Gateway.Encoding); err != nil {
		return nil, err
	}

	p := &pool{
		dispatcher: rest.NewDispatcher(cfg.Token, cfg.DispatcherOptions()...),
	}

	defer func() {
		if err != nil {
			p.close()
		}
	}()

	total, err := resolveTotal(ctx, cfg, p.dispatcher)
	if err != nil {
		return nil, err
	}

	var sessions gateway.SessionStore
	if cfg.Sessions.URI != "" {
		if p.store, err = sessionstore.Connect(ctx, cfg.Sessions.URI, cfg.Sessions.Namespace); err != nil {
			return nil, err
		}

		if err = p.store.Schema(ctx); err != nil {
			return nil, err
		}

		sessions = p.store
	}

	options, err := cfg.ShardOptions(total, sessions)
	if err != nil {
		return nil, err
	}

	if p.manager, err = gateway.NewShardManager(cfg.Token, options); err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		p.pusher, err = forwarding.NewRedisPusher(forwarding.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Threads:  cfg.Redis.Threads,
		})
		if err != nil {
			return nil, err
		}

		forwarder := forwarding.NewForwarder(p.pusher, forwarding.Options{
			Key:          cfg.Redis.Key,
			MaxLength:    cfg.Redis.MaxLength,
			BotToken:     cfg.Token,
			IsWhitelabel: cfg.Redis.Whitelabel,
		})
		p.handlers = append(p.handlers, forwarder.Handle)
	}

	return p, nil
}

// resolveTotal returns the configured total shard count, or the recommended count when
// it is 0.
func resolveTotal(ctx context.Context, cfg *config.Config, dispatcher *rest.Dispatcher) (int, error) {
	if cfg.Shards.Total > 0 {
		return cfg.Shards.Total, nil
	}

	gatewayBot, err := dispatcher.GetGatewayBot(ctx)
	if err != nil {
		return 0, err
	}

	limit := gatewayBot.SessionStartLimit
	logrus.Infof("using recommended shard count %d (%d/%d session starts left, reset in %s)",
		gatewayBot.Shards, limit.Remaining, limit.Total, limit.ResetIn())

	return gatewayBot.Shards, nil
}

func (p *pool) handle(handler func(gateway.Event)) {
	p.handlers = append(p.handlers, handler)
}

// serve connects every shard and delivers events to the handlers until ctx is cancelled.
func (p *pool) serve(ctx context.Context) error {
	defer p.close()

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)

		for ev := range p.manager.Events() {
			for _, handler := range p.handlers {
				handler(ev)
			}
		}
	}()

	if err := p.manager.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		_ = p.manager.Close()
		<-delivered
		return err
	}

	<-ctx.Done()
	logrus.Infof("shutting down")

	if err := p.manager.Close(); err != nil {
		logrus.Warnf("error closing shards: %s", err.Error())
	}

	<-delivered
	return nil
}

func (p *pool) close() {
	p.dispatcher.Close()

	if p.store != nil {
		p.store.Close()
	}

	if p.pusher != nil {
		if err := p.pusher.Close(); err != nil {
			logrus.Warnf("error closing redis: %s", err.Error())
		}
	}
}
