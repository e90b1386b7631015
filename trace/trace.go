// Package trace replays point lookups with server side tracing enabled and
// correlates the resulting trace events back to the key that caused them.
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/grafana/rowtracer/cassandra"
)

// ErrTraceUnavailable means the query itself succeeded but its trace could
// not be retrieved. It is as fatal to the run as a failed query.
var ErrTraceUnavailable = errors.New("query trace unavailable")

// Event is one server side trace record for an executed query:
// microseconds elapsed on the source node since the query started, plus a
// human readable description of the step.
type Event struct {
	SourceElapsed int
	Activity      string
}

// Querier performs a single traced point lookup and returns the trace events
// in the order the server recorded them. A successful lookup may yield zero
// events.
type Querier interface {
	Lookup(key string) ([]Event, error)
}

// sessionTracer implements gocql.Tracer. Instead of printing events right
// away, like gocql's bundled trace writer, it captures the server assigned
// trace session id so the events can be fetched and attributed to a key later.
type sessionTracer struct {
	mu sync.Mutex
	id []byte
}

func (t *sessionTracer) Trace(traceID []byte) {
	t.mu.Lock()
	// a retried query reports a new id, keep the last attempt
	t.id = traceID
	t.mu.Unlock()
}

func (t *sessionTracer) traceID() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// CQLQuerier is the gocql backed Querier. Its lookups run
// "SELECT * FROM <keyspace>.<table> WHERE <keyColumn>=?" with tracing
// enabled. The row data is drained and discarded, this tool only cares about
// the trace.
type CQLQuerier struct {
	session   *cassandra.Session
	stmt      string
	maxWait   time.Duration
	pollEvery time.Duration
}

func NewCQLQuerier(session *cassandra.Session, keyspace, table, keyColumn string, maxWait time.Duration) *CQLQuerier {
	return &CQLQuerier{
		session:   session,
		stmt:      fmt.Sprintf("SELECT * FROM %s.%s WHERE %s=?", keyspace, table, keyColumn),
		maxWait:   maxWait,
		pollEvery: 50 * time.Millisecond,
	}
}

func (q *CQLQuerier) Lookup(key string) ([]Event, error) {
	session := q.session.CurrentSession()
	tr := &sessionTracer{}
	iter := session.Query(q.stmt, key).Trace(tr).Iter()
	for {
		// drain the rows to force the query to completion
		row := make(map[string]interface{})
		if !iter.MapScan(row) {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	id := tr.traceID()
	if id == nil {
		// the coordinator reported no trace session, so there is nothing to
		// retrieve. not an error.
		return nil, nil
	}
	if err := q.awaitTrace(session, id); err != nil {
		return nil, err
	}
	return q.fetchEvents(session, id)
}

// awaitTrace polls the trace session row until the coordinator has flushed
// the trace (duration set), since traces are written asynchronously server
// side. Waiting longer than maxWait fails the lookup.
func (q *CQLQuerier) awaitTrace(session *gocql.Session, id []byte) error {
	deadline := time.Now().Add(q.maxWait)
	for {
		var duration int
		err := session.Query("SELECT duration FROM system_traces.sessions WHERE session_id = ?", id).
			Consistency(gocql.One).Scan(&duration)
		if err == nil && duration > 0 {
			return nil
		}
		if err != nil && err != gocql.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrTraceUnavailable, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after waiting %s", ErrTraceUnavailable, q.maxWait)
		}
		time.Sleep(q.pollEvery)
	}
}

func (q *CQLQuerier) fetchEvents(session *gocql.Session, id []byte) ([]Event, error) {
	iter := session.Query("SELECT source_elapsed, activity FROM system_traces.events WHERE session_id = ?", id).
		Consistency(gocql.One).Iter()
	var events []Event
	var elapsed int
	var activity string
	for iter.Scan(&elapsed, &activity) {
		events = append(events, Event{SourceElapsed: elapsed, Activity: activity})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTraceUnavailable, err)
	}
	return events, nil
}
