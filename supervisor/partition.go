package supervisor

import (
	"fmt"
	"time"
)

// ShardRange is the contiguous block of shard ids owned by one worker. Highest is exclusive.
type ShardRange struct {
	Worker  int
	Lowest  int
	Highest int
	Total   int
}

func (r ShardRange) Count() int {
	return r.Highest - r.Lowest
}

// Partition splits total shards into at most workers contiguous ranges of
// ceil(total/workers) shards. The last range takes the remainder, and workers that would
// receive no shards are not created.
func Partition(total, workers int) ([]ShardRange, error) {
	if total < 1 {
		return nil, fmt.Errorf("total shard count must be at least 1, got %d", total)
	}

	if workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workers)
	}

	perWorker := (total + workers - 1) / workers

	var ranges []ShardRange
	for lowest := 0; lowest < total; lowest += perWorker {
		highest := lowest + perWorker
		if highest > total {
			highest = total
		}

		ranges = append(ranges, ShardRange{
			Worker:  len(ranges),
			Lowest:  lowest,
			Highest: highest,
			Total:   total,
		})
	}

	return ranges, nil
}

// launchDelay is how long after the first worker the given worker is started: every
// earlier worker has to identify all of its shards first.
func launchDelay(worker, perWorker int, spacing time.Duration) time.Duration {
	return time.Duration(worker*perWorker) * spacing
}
