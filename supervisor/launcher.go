package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Env vars handed to worker processes, matching the names config.Load reads.
const (
	EnvWorkerId     = "SHARDER_WORKER_ID"
	EnvCountTotal   = "SHARDER_COUNT_TOTAL"
	EnvCountLowest  = "SHARDER_COUNT_LOWEST"
	EnvCountHighest = "SHARDER_COUNT_HIGHEST"
)

// Launcher starts a worker owning the given range.
type Launcher interface {
	Launch(ctx context.Context, shards ShardRange) (Worker, error)
}

// Worker is a running child. Messages is closed once the worker stops reporting; Wait
// then returns its exit status.
type Worker interface {
	Messages() <-chan Message
	Wait() error
}

// ProcessLauncher runs each worker as a separate OS process. The child reports on stdout;
// its stderr is passed through.
type ProcessLauncher struct {
	Path string
	Args []string
	Env  []string // appended to the parent's environment
}

func (l ProcessLauncher) Launch(ctx context.Context, shards ShardRange) (Worker, error) {
	cmd := exec.CommandContext(ctx, l.Path, l.Args...)
	cmd.Stderr = os.Stderr
	cmd.Env = append(append(os.Environ(), l.Env...), shards.Environ()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %d: %w", shards.Worker, err)
	}

	process := &processWorker{
		cmd:      cmd,
		messages: make(chan Message),
	}

	go process.read(stdout, shards.Worker)

	return process, nil
}

// Environ returns the env vars describing this range to a worker.
func (r ShardRange) Environ() []string {
	return []string{
		EnvWorkerId + "=" + strconv.Itoa(r.Worker),
		EnvCountTotal + "=" + strconv.Itoa(r.Total),
		EnvCountLowest + "=" + strconv.Itoa(r.Lowest),
		EnvCountHighest + "=" + strconv.Itoa(r.Highest),
	}
}

type processWorker struct {
	cmd      *exec.Cmd
	messages chan Message
}

func (w *processWorker) Messages() <-chan Message {
	return w.messages
}

// Wait must only be called after Messages has been drained, since it closes the stdout pipe.
func (w *processWorker) Wait() error {
	return w.cmd.Wait()
}

func (w *processWorker) read(stdout io.Reader, worker int) {
	defer close(w.messages)
	readMessages(stdout, worker, w.messages)
}

// maxMessageSize caps a single line of worker output.
var maxMessageSize = 16 * 1024 * 1024

// readMessages decodes newline delimited messages until r is exhausted. Lines that are not
// messages are logged and skipped so a stray print in the worker does not break the stream.
func readMessages(r io.Reader, worker int, out chan<- Message) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
			logrus.Warnf("worker %d: ignoring output line: %s", worker, line)
			continue
		}

		out <- msg
	}

	if err := scanner.Err(); err != nil {
		logrus.Warnf("worker %d: reading output: %s", worker, err.Error())

		// keep the pipe flowing, otherwise the child blocks on a full stdout and never exits
		if _, err := io.Copy(io.Discard, r); err != nil {
			logrus.Warnf("worker %d: discarding output: %s", worker, err.Error())
		}
	}
}
