package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/TicketsBot/common/sentry"
	"github.com/sirupsen/logrus"
)

// FatalHandler is called once a shard has been terminated by an unrecoverable close code.
type FatalHandler func(shard *Shard, err *FatalError)

// ShardManager owns the shards of one process. Shards are started one at a time, each
// waiting for the previous one to become ready plus the identify spacing, because identify
// is rate limited globally by the gateway.
type ShardManager struct {
	token   string
	options ShardOptions

	shards     map[int]*Shard
	started    []*Shard
	queue      []int
	shardsLock sync.RWMutex

	events       *eventQueue
	fatalHandler FatalHandler
	closeOnce    sync.Once
}

func NewShardManager(token string, options ShardOptions) (*ShardManager, error) {
	count := options.ShardCount
	if count.Highest == 0 && count.Lowest == 0 {
		count.Highest = count.Total
	}

	if count.Total < 1 {
		return nil, fmt.Errorf("total shard count must be at least 1, got %d", count.Total)
	}

	if count.Lowest < 0 || count.Lowest >= count.Highest || count.Highest > count.Total {
		return nil, fmt.Errorf("invalid shard range [%d, %d) of %d", count.Lowest, count.Highest, count.Total)
	}

	options.ShardCount = count
	options = options.withDefaults()

	manager := &ShardManager{
		token:        token,
		options:      options,
		shards:       make(map[int]*Shard),
		events:       newEventQueue(options.EventBuffer),
		fatalHandler: exitOnFatal,
	}

	for i := count.Lowest; i < count.Highest; i++ {
		manager.shards[i] = NewShard(manager, token, i, options)
		manager.queue = append(manager.queue, i)
	}

	return manager, nil
}

// Connect starts every queued shard in ascending order and returns once all of them are
// ready. It can be called again after a failure to continue with the remaining queue.
func (sm *ShardManager) Connect(ctx context.Context) error {
	for {
		sm.shardsLock.Lock()
		if len(sm.queue) == 0 {
			sm.shardsLock.Unlock()
			logrus.Infof("all shards connected")
			return nil
		}

		shard := sm.shards[sm.queue[0]]
		sm.queue = sm.queue[1:]
		sm.started = append(sm.started, shard)
		remaining := len(sm.queue)
		sm.shardsLock.Unlock()

		if err := shard.Connect(ctx); err != nil {
			return err
		}

		if err := shard.WaitReady(ctx); err != nil {
			return fmt.Errorf("shard %d: %w", shard.ShardId, err)
		}

		if remaining == 0 {
			continue
		}

		select {
		case <-time.After(sm.options.IdentifySpacing):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Broadcast applies fn to every started shard. Shards that are still queued are skipped, so
// a broadcast during startup only reaches part of the pool.
func (sm *ShardManager) Broadcast(fn func(*Shard) error) error {
	var errs []error
	for _, shard := range sm.Started() {
		if err := fn(shard); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", shard.ShardId, err))
		}
	}

	return errors.Join(errs...)
}

func (sm *ShardManager) UpdatePresence(ctx context.Context, presence Presence) error {
	return sm.Broadcast(func(shard *Shard) error {
		// skip shards that have not finished the handshake
		if shard.State() != StateReady {
			return nil
		}

		return shard.UpdatePresence(ctx, presence)
	})
}

// Started returns the shards that have been started, ordered by shard id.
func (sm *ShardManager) Started() []*Shard {
	sm.shardsLock.RLock()
	shards := make([]*Shard, len(sm.started))
	copy(shards, sm.started)
	sm.shardsLock.RUnlock()

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ShardId < shards[j].ShardId
	})

	return shards
}

func (sm *ShardManager) Shard(shardId int) (*Shard, bool) {
	sm.shardsLock.RLock()
	defer sm.shardsLock.RUnlock()

	shard, ok := sm.shards[shardId]
	return shard, ok
}

func (sm *ShardManager) Events() <-chan Event {
	return sm.events.out
}

// Use registers middleware that runs, in order, on every event before it is delivered.
func (sm *ShardManager) Use(middleware Middleware) {
	sm.events.use(middleware)
}

func (sm *ShardManager) SetFatalHandler(handler FatalHandler) {
	sm.fatalHandler = handler
}

// Close kills every shard and closes the event channel once pending events are delivered.
func (sm *ShardManager) Close() error {
	var errs []error
	for _, shard := range sm.Started() {
		if err := shard.Kill(); err != nil {
			errs = append(errs, err)
		}
	}

	sm.closeOnce.Do(sm.events.close)
	return errors.Join(errs...)
}

func (sm *ShardManager) onFatalError(shard *Shard, err *FatalError) {
	if sm.fatalHandler != nil {
		sm.fatalHandler(shard, err)
	}
}

// exitOnFatal reports the error and exits after a short delay so logs and events flush.
func exitOnFatal(shard *Shard, err *FatalError) {
	sentry.Error(err)
	logrus.Errorf("shard %d: unrecoverable error, exiting: %s", shard.ShardId, err)

	time.Sleep(DefaultFatalExitDelay)
	os.Exit(1)
}
