// Package supervisor runs the shards of a bot across several worker processes. Each worker
// owns a contiguous range of shard ids and reports back over a message stream; the
// supervisor never shares memory with its workers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultSpacing = 6 * time.Second

type Options struct {
	TotalShards int
	Workers     int

	// Spacing is the identify spacing of a single shard. Worker i is started
	// i * shardsPerWorker * Spacing after the first.
	Spacing time.Duration

	// MessageBuffer is the capacity of the Messages channel.
	MessageBuffer int
}

type Supervisor struct {
	launcher Launcher
	options  Options
	ranges   []ShardRange

	messages chan WorkerMessage
	runOnce  sync.Once
}

func NewSupervisor(launcher Launcher, options Options) (*Supervisor, error) {
	ranges, err := Partition(options.TotalShards, options.Workers)
	if err != nil {
		return nil, err
	}

	if options.Spacing == 0 {
		options.Spacing = DefaultSpacing
	}

	if options.MessageBuffer == 0 {
		options.MessageBuffer = 100
	}

	return &Supervisor{
		launcher: launcher,
		options:  options,
		ranges:   ranges,
		messages: make(chan WorkerMessage, options.MessageBuffer),
	}, nil
}

func (s *Supervisor) Ranges() []ShardRange {
	return append([]ShardRange(nil), s.ranges...)
}

// Messages relays every worker's messages, tagged with the worker id. Messages of one
// worker keep their order. The channel is closed when Run returns.
func (s *Supervisor) Messages() <-chan WorkerMessage {
	return s.messages
}

// Run launches the workers with staggered start times and blocks until all of them have
// exited. If a worker fails, the context passed to the others is cancelled, which kills
// them. Run may only be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	err := errors.New("supervisor already ran")
	s.runOnce.Do(func() {
		err = s.run(ctx)
	})

	return err
}

func (s *Supervisor) run(ctx context.Context) error {
	defer close(s.messages)

	group, ctx := errgroup.WithContext(ctx)
	perWorker := s.ranges[0].Count()

	for _, shards := range s.ranges {
		shards := shards
		delay := launchDelay(shards.Worker, perWorker, s.options.Spacing)

		group.Go(func() error {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()

				select {
				case <-timer.C:
				case <-ctx.Done():
					return nil
				}
			}

			return s.supervise(ctx, shards)
		})
	}

	return group.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, shards ShardRange) error {
	logrus.Infof("worker %d: launching shards [%d, %d) of %d", shards.Worker, shards.Lowest, shards.Highest, shards.Total)

	worker, err := s.launcher.Launch(ctx, shards)
	if err != nil {
		return fmt.Errorf("worker %d: %w", shards.Worker, err)
	}

	for msg := range worker.Messages() {
		s.relay(ctx, WorkerMessage{Worker: shards.Worker, Message: msg})
	}

	if err := worker.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("worker %d exited: %w", shards.Worker, err)
	}

	logrus.Infof("worker %d: exited", shards.Worker)
	return nil
}

// relay drops the message only if the consumer has stopped reading and the context is
// done, so the worker is never blocked on its output during shutdown.
func (s *Supervisor) relay(ctx context.Context, msg WorkerMessage) {
	select {
	case s.messages <- msg:
		return
	default:
	}

	select {
	case s.messages <- msg:
	case <-ctx.Done():
	}
}
