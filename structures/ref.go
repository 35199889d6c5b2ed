// Package structures holds the API entities. An entity reference is either a stub that
// only knows its id or a full value; stubs can be fetched into full values.
package structures

import (
	"context"
	"encoding/json"

	"github.com/TicketsBot/shardkit/rest"
	"github.com/TicketsBot/shardkit/snowflake"
)

// Client is the part of the REST dispatcher used to fetch entities.
type Client interface {
	Do(ctx context.Context, request rest.Request, out interface{}) error
}

// Ref is a tagged variant: a stub carrying only the id, or the full entity.
type Ref[T any] struct {
	Id   snowflake.Snowflake
	full *T
}

func Stub[T any](id snowflake.Snowflake) Ref[T] {
	return Ref[T]{Id: id}
}

func Full[T any](id snowflake.Snowflake, value T) Ref[T] {
	return Ref[T]{Id: id, full: &value}
}

func (r Ref[T]) Partial() bool {
	return r.full == nil
}

// Value returns the full entity, or false for a stub.
func (r Ref[T]) Value() (T, bool) {
	if r.full == nil {
		var zero T
		return zero, false
	}

	return *r.full, true
}

// Stub drops the full value.
func (r Ref[T]) Stub() Ref[T] {
	return Ref[T]{Id: r.Id}
}

// MarshalJSON encodes a stub as {"id": ...} and a full value as the entity itself.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.full == nil {
		return json.Marshal(idOnly{Id: r.Id})
	}

	return json.Marshal(r.full)
}

// UnmarshalJSON always yields a full value. Whether a kind stays partial is decided by the
// Factory, not by decoding.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var id idOnly
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	r.Id = id.Id
	r.full = &value
	return nil
}

type idOnly struct {
	Id snowflake.Snowflake `json:"id"`
}

func fetch[T any](ctx context.Context, client Client, ref Ref[T], request rest.Request) (T, error) {
	if value, ok := ref.Value(); ok {
		return value, nil
	}

	var value T
	if err := client.Do(ctx, request, &value); err != nil {
		return value, err
	}

	return value, nil
}
