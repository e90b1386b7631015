package trace

import (
	"fmt"
	"io"

	"github.com/grafana/rowtracer/keys"
	log "github.com/sirupsen/logrus"
)

// KeyError reports which key a lookup failed on.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("failed reading key %q: %s", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// Executor replays point lookups chunk by chunk against a Querier and writes
// one line per trace event to Out: "<key> <elapsed-us> <activity>".
type Executor struct {
	Querier Querier
	Out     io.Writer
}

type outcome struct {
	events []Event
	err    error
}

// ExecuteChunk dispatches one lookup per key, without waiting for earlier
// keys of the chunk to complete, then awaits and prints each key's events in
// submission order. So the number of lookups in flight is bounded by the
// chunk size, every key's events form a contiguous block, and blocks appear
// in submission order no matter in which order the lookups complete.
//
// The first failure, in submission order, aborts the chunk with a *KeyError.
// Lookups still in flight for later keys are abandoned, not awaited.
func (e *Executor) ExecuteChunk(chunk []string) error {
	pending := make([]chan outcome, len(chunk))
	for i, key := range chunk {
		ch := make(chan outcome, 1)
		pending[i] = ch
		go func(key string, ch chan<- outcome) {
			events, err := e.Querier.Lookup(key)
			ch <- outcome{events: events, err: err}
		}(key, ch)
	}
	for i, key := range chunk {
		res := <-pending[i]
		if res.err != nil {
			return &KeyError{Key: key, Err: res.err}
		}
		for _, ev := range res.events {
			fmt.Fprintf(e.Out, "%s %d %s\n", key, ev.SourceElapsed, ev.Activity)
		}
	}
	return nil
}

// Run replays allKeys in chunks of chunkSize. Chunks are processed strictly
// in order, a chunk is never dispatched before the previous one completed.
// The run stops at the first failed chunk and its error is returned,
// everything printed up to that point stands.
func (e *Executor) Run(allKeys []string, chunkSize int) error {
	chunker, err := keys.NewChunker(allKeys, chunkSize)
	if err != nil {
		return err
	}
	for {
		chunk, ok := chunker.Next()
		if !ok {
			return nil
		}
		log.Debugf("executor: dispatching chunk %v", chunk)
		if err := e.ExecuteChunk(chunk); err != nil {
			return err
		}
	}
}
