package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrUnknown              = errors.New("unknown error")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrDecodeError          = errors.New("decode error")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrInvalidSeq           = errors.New("invalid seq")
	ErrRateLimited          = errors.New("rate limited")
	ErrSessionTimedOut      = errors.New("session timed out")
	ErrInvalidShard         = errors.New("invalid shard")
	ErrShardingRequired     = errors.New("sharding required")
	ErrInvalidApiVersion    = errors.New("invalid api version")
	ErrInvalidIntents       = errors.New("invalid intents")
	ErrDisallowedIntents    = errors.New("disallowed intents")

	ErrNotConnected     = errors.New("websocket is not connected")
	ErrAlreadyConnected = errors.New("shard is already running")
	ErrTerminated       = errors.New("shard has been terminated")
	ErrInvalidSession   = errors.New("invalid session")

	// CloseCodes maps gateway close codes to the error they represent.
	CloseCodes = map[int]error{
		4000: ErrUnknown,
		4001: ErrUnknownOpcode,
		4002: ErrDecodeError,
		4003: ErrNotAuthenticated,
		4004: ErrAuthenticationFailed,
		4005: ErrAlreadyAuthenticated,
		4007: ErrInvalidSeq,
		4008: ErrRateLimited,
		4009: ErrSessionTimedOut,
		4010: ErrInvalidShard,
		4011: ErrShardingRequired,
		4012: ErrInvalidApiVersion,
		4013: ErrInvalidIntents,
		4014: ErrDisallowedIntents,
	}
)

// DefaultFatalCloseCodes are the close codes after which reconnecting can never succeed.
// The set is server defined, so ShardOptions.FatalCloseCodes can replace it.
func DefaultFatalCloseCodes() map[int]bool {
	return map[int]bool{
		4004: true,
		4010: true,
		4011: true,
		4012: true,
		4013: true,
		4014: true,
	}
}

// FatalError is returned when the gateway closed a shard with an unrecoverable code.
type FatalError struct {
	ShardId int
	Code    int
	Reason  string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d: unrecoverable close %d (%s): %s", e.ShardId, e.Code, e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// SessionError describes an invalidated gateway session. It never reaches callers directly,
// the shard recovers from it by resuming or identifying again.
type SessionError struct {
	ShardId   int
	Resumable bool
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("shard %d: invalid session (resumable=%t)", e.ShardId, e.Resumable)
}

func (e *SessionError) Unwrap() error {
	return ErrInvalidSession
}

// closeError resolves a close code to a known gateway error.
func closeError(code int) error {
	if err, found := CloseCodes[code]; found {
		return err
	}

	return fmt.Errorf("close code %d", code)
}

// dialError wraps a failure to establish the socket at all.
type dialError struct {
	err error
}

func (e *dialError) Error() string {
	return "dial: " + e.err.Error()
}

func (e *dialError) Unwrap() error {
	return e.err
}
