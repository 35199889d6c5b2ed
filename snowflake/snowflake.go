// Package snowflake encodes and generates time-ordered 64 bit identifiers.
//
// Layout, most significant bit first: 42 bits of milliseconds since Epoch, 5 bits worker
// id, 5 bits process id, 12 bits increment.
package snowflake

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Epoch is the first millisecond of 2015, in unix millis.
const Epoch = 1420070400000

const (
	incrementBits = 12
	processBits   = 5
	workerBits    = 5

	maxIncrement = 1<<incrementBits - 1
	processShift = incrementBits
	workerShift  = incrementBits + processBits
	timeShift    = incrementBits + processBits + workerBits
)

type Snowflake uint64

func Parse(s string) (Snowflake, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}

	return Snowflake(id), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(s>>timeShift) + Epoch)
}

func (s Snowflake) WorkerId() uint8 {
	return uint8(s>>workerShift) & (1<<workerBits - 1)
}

func (s Snowflake) ProcessId() uint8 {
	return uint8(s>>processShift) & (1<<processBits - 1)
}

func (s Snowflake) Increment() uint16 {
	return uint16(s & maxIncrement)
}

// MarshalJSON encodes the id as a string, since JSON numbers lose precision above 2^53.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// some payloads carry ids as numbers
		var number uint64
		if numErr := json.Unmarshal(data, &number); numErr != nil {
			return err
		}

		*s = Snowflake(number)
		return nil
	}

	parsed, err := Parse(raw)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// Generator hands out snowflakes for one component. Each instance has its own counter.
//
// The increment is 12 bits wide and wraps back to zero after 4095, regardless of the
// timestamp. Generating more than 4096 ids within the same millisecond therefore repeats ids.
type Generator struct {
	mu        sync.Mutex
	workerId  uint8
	processId uint8
	increment uint16
}

func NewGenerator(workerId, processId uint8) *Generator {
	return &Generator{
		workerId:  workerId & (1<<workerBits - 1),
		processId: processId & (1<<processBits - 1),
	}
}

func (g *Generator) Generate(t time.Time) Snowflake {
	g.mu.Lock()
	increment := g.increment
	if g.increment == maxIncrement {
		g.increment = 0
	} else {
		g.increment++
	}
	g.mu.Unlock()

	millis := uint64(t.UnixMilli() - Epoch)
	return Snowflake(millis<<timeShift |
		uint64(g.workerId)<<workerShift |
		uint64(g.processId)<<processShift |
		uint64(increment))
}

func (g *Generator) Next() Snowflake {
	return g.Generate(time.Now())
}
