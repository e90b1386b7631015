package trace

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/grafana/rowtracer/keys"
)

// fakeQuerier serves canned events/errors per key and records which keys got
// looked up. Optional per-key delays simulate out of order completion.
type fakeQuerier struct {
	mu     sync.Mutex
	calls  []string
	events map[string][]Event
	errs   map[string]error
	delays map[string]time.Duration
}

func (f *fakeQuerier) Lookup(key string) ([]Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if d := f.delays[key]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.events[key], nil
}

func (f *fakeQuerier) looked(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.calls {
		if k == key {
			return true
		}
	}
	return false
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRunOneEventPerKey(t *testing.T) {
	f := &fakeQuerier{events: map[string][]Event{}}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		f.events[k] = []Event{{SourceElapsed: 100, Activity: "reading data from /192.168.1.1"}}
	}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	if err := e.Run([]string{"a", "b", "c", "d", "e"}, 2); err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"a 100 reading data from /192.168.1.1",
		"b 100 reading data from /192.168.1.1",
		"c 100 reading data from /192.168.1.1",
		"d 100 reading data from /192.168.1.1",
		"e 100 reading data from /192.168.1.1",
	}
	if diff := cmp.Diff(expected, lines(&buf)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteChunkContiguousBlocksInSubmissionOrder(t *testing.T) {
	// the first key completes last, its block must still be printed first
	f := &fakeQuerier{
		events: map[string][]Event{
			"slow": {{1, "parsing statement"}, {2, "executing statement"}},
			"none": nil,
			"fast": {{3, "reading 1 live rows"}, {4, "request complete"}, {5, "done"}},
		},
		delays: map[string]time.Duration{"slow": 50 * time.Millisecond},
	}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	if err := e.ExecuteChunk([]string{"slow", "none", "fast"}); err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"slow 1 parsing statement",
		"slow 2 executing statement",
		"fast 3 reading 1 live rows",
		"fast 4 request complete",
		"fast 5 done",
	}
	if diff := cmp.Diff(expected, lines(&buf)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroEventsIsNotAnError(t *testing.T) {
	f := &fakeQuerier{events: map[string][]Event{"a": nil}}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	if err := e.Run([]string{"a"}, 10); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := lines(&buf); got != nil {
		t.Errorf("expected no output, got %v", got)
	}
}

func TestFailFastWithinChunk(t *testing.T) {
	f := &fakeQuerier{
		events: map[string][]Event{"x": {{7, "row read"}}},
		errs:   map[string]error{"y": errors.New("timeout")},
	}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	err := e.Run([]string{"x", "y"}, 10)
	if err == nil {
		t.Fatal("expected an error")
	}
	var keyErr *KeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected a *KeyError, got %T", err)
	}
	if keyErr.Key != "y" {
		t.Errorf("expected failure on key y, got %q", keyErr.Key)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error should mention the underlying cause, got %q", err)
	}
	// x's records made it out before the failure was reported
	if diff := cmp.Diff([]string{"x 7 row read"}, lines(&buf)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestFailFastStopsLaterChunks(t *testing.T) {
	f := &fakeQuerier{
		events: map[string][]Event{"a": {{1, "ok"}}},
		errs:   map[string]error{"b": errors.New("host down")},
	}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	err := e.Run([]string{"a", "b", "c", "d"}, 2)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"c", "d"} {
		if f.looked(key) {
			t.Errorf("key %q belongs to a chunk after the failure and must not be looked up", key)
		}
	}
}

func TestFirstErrorInSubmissionOrderWins(t *testing.T) {
	// both keys fail, but the second one finishes first. the reported error
	// must still be the first key's, in submission order.
	f := &fakeQuerier{
		errs: map[string]error{
			"first":  errors.New("unavailable"),
			"second": errors.New("timeout"),
		},
		delays: map[string]time.Duration{"first": 30 * time.Millisecond},
	}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	err := e.ExecuteChunk([]string{"first", "second"})
	var keyErr *KeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected a *KeyError, got %T", err)
	}
	if keyErr.Key != "first" {
		t.Errorf("expected failure on key first, got %q", keyErr.Key)
	}
}

func TestRunInvalidChunkSize(t *testing.T) {
	f := &fakeQuerier{}
	e := &Executor{Querier: f, Out: &bytes.Buffer{}}
	if err := e.Run([]string{"a"}, 0); err != keys.ErrInvalidChunkSize {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("no lookups may happen on an invalid chunk size, got %v", f.calls)
	}
}

func TestDuplicateKeysReportedIndependently(t *testing.T) {
	f := &fakeQuerier{events: map[string][]Event{"dup": {{9, "hit"}}}}
	var buf bytes.Buffer
	e := &Executor{Querier: f, Out: &buf}
	if err := e.Run([]string{"dup", "dup"}, 10); err != nil {
		t.Fatal(err)
	}
	expected := []string{"dup 9 hit", "dup 9 hit"}
	if diff := cmp.Diff(expected, lines(&buf)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}
