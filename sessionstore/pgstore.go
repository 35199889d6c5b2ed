// Package sessionstore persists gateway sessions in Postgres.
package sessionstore

import (
	"context"
	"errors"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS shard_sessions(
	"namespace" VARCHAR(64) NOT NULL,
	"shard_id" INT NOT NULL,
	"total_shards" INT NOT NULL,
	"session_id" VARCHAR(64) NOT NULL,
	"sequence" INT8 NOT NULL,
	PRIMARY KEY("namespace", "shard_id")
);`

// PgStore implements gateway.SessionStore. Rows are namespaced so several bots can share
// one table.
type PgStore struct {
	pool      *pgxpool.Pool
	namespace string
}

var _ gateway.SessionStore = (*PgStore)(nil)

func Connect(ctx context.Context, connString, namespace string) (*PgStore, error) {
	pool, err := pgxpool.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	return NewPgStore(pool, namespace), nil
}

func NewPgStore(pool *pgxpool.Pool, namespace string) *PgStore {
	return &PgStore{
		pool:      pool,
		namespace: namespace,
	}
}

func (s *PgStore) Schema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PgStore) Load(ctx context.Context, shardId int) (gateway.SessionSnapshot, bool, error) {
	snapshot := gateway.SessionSnapshot{ShardId: shardId}

	query := `SELECT "total_shards", "session_id", "sequence" FROM shard_sessions WHERE "namespace" = $1 AND "shard_id" = $2;`
	err := s.pool.QueryRow(ctx, query, s.namespace, shardId).Scan(&snapshot.TotalShards, &snapshot.SessionId, &snapshot.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot, false, nil
	} else if err != nil {
		return snapshot, false, err
	}

	return snapshot, true, nil
}

func (s *PgStore) Save(ctx context.Context, snapshot gateway.SessionSnapshot) error {
	query := `
INSERT INTO shard_sessions("namespace", "shard_id", "total_shards", "session_id", "sequence")
VALUES($1, $2, $3, $4, $5)
ON CONFLICT("namespace", "shard_id") DO UPDATE SET
	"total_shards" = EXCLUDED."total_shards",
	"session_id" = EXCLUDED."session_id",
	"sequence" = EXCLUDED."sequence";`

	_, err := s.pool.Exec(ctx, query, s.namespace, snapshot.ShardId, snapshot.TotalShards, snapshot.SessionId, snapshot.Sequence)
	return err
}

func (s *PgStore) Delete(ctx context.Context, shardId int) error {
	query := `DELETE FROM shard_sessions WHERE "namespace" = $1 AND "shard_id" = $2;`
	_, err := s.pool.Exec(ctx, query, s.namespace, shardId)
	return err
}

func (s *PgStore) Close() {
	s.pool.Close()
}
