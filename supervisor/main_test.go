package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"testing"

	"go.uber.org/goleak"
)

const envTestWorker = "SHARDKIT_TEST_WORKER"

// The test binary doubles as a worker process for ProcessLauncher tests.
func TestMain(m *testing.M) {
	if os.Getenv(envTestWorker) == "1" {
		os.Exit(runTestWorker())
	}

	goleak.VerifyTestMain(m)
}

func runTestWorker() int {
	lowest, _ := strconv.Atoi(os.Getenv(EnvCountLowest))
	highest, _ := strconv.Atoi(os.Getenv(EnvCountHighest))

	fmt.Println("starting up")

	reporter := NewReporter(os.Stdout)
	for shard := lowest; shard < highest; shard++ {
		if err := reporter.Send(Message{Type: MessageReady, ShardId: shard}); err != nil {
			return 2
		}
	}

	if os.Getenv(EnvWorkerId) == os.Getenv("SHARDKIT_TEST_FAIL_WORKER") {
		return 3
	}

	return 0
}
