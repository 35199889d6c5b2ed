package gateway

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForInterrupt returns a context that is cancelled on SIGINT or SIGTERM.
func WaitForInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
}
