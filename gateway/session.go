package gateway

import "context"

// ShardSession is the protocol state of one shard. Only the shard's own event loop reads
// or writes it.
type ShardSession struct {
	shardId     int
	totalShards int

	sequence            *int64
	sessionId           string
	heartbeatInterval   int // millis
	pendingHeartbeatAck bool
	unresolvedGuildIds  map[string]struct{}
	allGuildsLoaded     bool
	reconnecting        bool
}

func newShardSession(shardId, totalShards int) ShardSession {
	return ShardSession{
		shardId:     shardId,
		totalShards: totalShards,
	}
}

func (s *ShardSession) setSequence(seq int64) {
	s.sequence = &seq
}

// canResume reports whether a resume has everything it needs.
func (s *ShardSession) canResume() bool {
	return s.reconnecting && s.sessionId != "" && s.sequence != nil
}

// reset drops the session so the next handshake identifies from scratch.
func (s *ShardSession) reset() {
	s.sessionId = ""
	s.sequence = nil
	s.unresolvedGuildIds = nil
	s.allGuildsLoaded = false
}

func (s *ShardSession) snapshot() SessionSnapshot {
	snapshot := SessionSnapshot{
		ShardId:     s.shardId,
		TotalShards: s.totalShards,
		SessionId:   s.sessionId,
	}

	if s.sequence != nil {
		snapshot.Sequence = *s.sequence
	}

	return snapshot
}

func (s *ShardSession) restore(snapshot SessionSnapshot) {
	if snapshot.SessionId == "" || snapshot.TotalShards != s.totalShards {
		return
	}

	s.sessionId = snapshot.SessionId
	s.setSequence(snapshot.Sequence)
	s.reconnecting = true
}

// SessionSnapshot is the resumable part of a session, as persisted across process restarts.
type SessionSnapshot struct {
	ShardId     int
	TotalShards int
	SessionId   string
	Sequence    int64
}

// SessionStore persists sessions so a restarted process can resume instead of identifying.
type SessionStore interface {
	Load(ctx context.Context, shardId int) (SessionSnapshot, bool, error)
	Save(ctx context.Context, snapshot SessionSnapshot) error
	Delete(ctx context.Context, shardId int) error
}
