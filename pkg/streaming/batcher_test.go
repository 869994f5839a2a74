package streaming

import (
	"sync"
	"testing"
	"time"
)

func TestStreamBatcher_PushWithinDepth(t *testing.T) {
	b := NewStreamBatcher[int](4)

	b.Push(1)
	b.Push(2)

	items, dropped, ok := b.Flush()
	if !ok {
		t.Fatal("Flush() ok = false, want true")
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(items) != 2 || items[0] != 1 || items[1] != 2 {
		t.Errorf("items = %v, want [1 2]", items)
	}
}

func TestStreamBatcher_DropsOldestWhenFull(t *testing.T) {
	b := NewStreamBatcher[int](3)

	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	items, dropped, ok := b.Flush()
	if !ok {
		t.Fatal("Flush() ok = false, want true")
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if len(items) != 3 || items[0] != 3 || items[2] != 5 {
		t.Fatalf("items = %v, want [3 4 5]", items)
	}
}

func TestStreamBatcher_SoftThreshold(t *testing.T) {
	b := NewStreamBatcher[int](4)

	if crossed := b.Push(1); crossed {
		t.Error("Push(1) crossed soft threshold on a depth-4 queue, want false")
	}
	if crossed := b.Push(2); !crossed {
		t.Error("Push(2) should cross the half-full soft threshold on a depth-4 queue")
	}
}

func TestStreamBatcher_FlushEmptyIsNotOK(t *testing.T) {
	b := NewStreamBatcher[int](4)

	if _, _, ok := b.Flush(); ok {
		t.Error("Flush() on an empty batcher should report ok = false")
	}
}

func TestStreamBatcher_ConservesTotalCount(t *testing.T) {
	b := NewStreamBatcher[int](8)

	const produced = 100
	for i := 0; i < produced; i++ {
		b.Push(i)
	}

	items, dropped, ok := b.Flush()
	if !ok {
		t.Fatal("Flush() ok = false")
	}
	if len(items)+dropped != produced {
		t.Fatalf("consumed(%d) + dropped(%d) = %d, want %d", len(items), dropped, len(items)+dropped, produced)
	}
}

// TestRunner_ScenarioF mirrors spec.md Scenario F: telemetry is produced
// continuously while the consumer is blocked, then recovers. The first
// batch after recovery must report dropped > 0, and produced ==
// consumed + dropped across the whole run.
func TestRunner_ScenarioF(t *testing.T) {
	batcher := NewStreamBatcher[int](TelemetryDepth)

	var mu sync.Mutex
	var consumed int
	var lastDropped int
	var totalDropped int
	var batchesSeen int

	runner := NewRunner[int](batcher, 5*time.Millisecond, func(items []int, dropped int) {
		mu.Lock()
		defer mu.Unlock()
		consumed += len(items)
		lastDropped = dropped
		totalDropped += dropped
		batchesSeen++
	})

	// Simulate a blocked consumer: produce far faster than the runner
	// can flush by starting the runner only after overproducing.
	const produced = 500
	for i := 0; i < produced; i++ {
		batcher.Push(i)
	}

	runner.Start()
	defer runner.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := batchesSeen > 0
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if batchesSeen == 0 {
		t.Fatal("runner produced no batches")
	}
	if lastDropped == 0 && produced > TelemetryDepth {
		t.Error("first recovered batch should report dropped > 0 when overproduced past queue depth")
	}
	if consumed+totalDropped != produced {
		t.Errorf("consumed (%d) + dropped (%d) != produced (%d)", consumed, totalDropped, produced)
	}
}

func TestRunner_StartStopIdempotent(t *testing.T) {
	batcher := NewStreamBatcher[int](4)
	runner := NewRunner[int](batcher, time.Millisecond, func([]int, int) {})

	runner.Start()
	runner.Start() // no-op, should not panic or deadlock
	if !runner.IsRunning() {
		t.Fatal("runner should be running")
	}

	runner.Stop()
	runner.Stop() // no-op
	if runner.IsRunning() {
		t.Fatal("runner should not be running after Stop")
	}
}

func TestRunner_FinalFlushOnStop(t *testing.T) {
	batcher := NewStreamBatcher[int](8)
	var mu sync.Mutex
	var received []int

	runner := NewRunner[int](batcher, time.Hour, func(items []int, dropped int) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, items...)
	})

	runner.Start()
	runner.Push(1)
	runner.Push(2)
	runner.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received = %v, want [1 2] flushed on Stop", received)
	}
}
