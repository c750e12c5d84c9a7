package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/ingest"
)

// fakeUpdater implements CounterUpdater for tests
type fakeUpdater struct {
	failIncr  int // number of times to fail HIncrBy before succeeding
	failH     int // number of times to fail HSet before succeeding
	incrCalls int
	hCalls    int

	lastKey   string
	lastField string
}

func (f *fakeUpdater) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	f.incrCalls++
	if f.incrCalls <= f.failIncr {
		return errors.New("incr fail")
	}
	f.lastKey = key
	f.lastField = field
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func testEvent() *ingest.PoolEvent {
	return &ingest.PoolEvent{
		Type:      ingest.EventMatchFound,
		RequestID: uuid.New(),
		UserID:    uuid.New(),
		CollegeID: 42,
		At:        time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failIncr: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, testEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.incrCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got incr=%d h=%d", f.incrCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failIncr: 5, failH: 0}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, testEvent(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateRedisWithRetry_KeysByDayAndCollege(t *testing.T) {
	f := &fakeUpdater{}
	evt := testEvent()
	if err := updateRedisWithRetry(context.Background(), f, evt, 1, time.Millisecond); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.lastKey != "pool:stats:2026-08-29" {
		t.Fatalf("unexpected stats key %q", f.lastKey)
	}
	if f.lastField != "42:match_found" {
		t.Fatalf("unexpected stats field %q", f.lastField)
	}
}
