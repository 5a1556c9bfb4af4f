package progress

import (
	"fmt"
	"sync"
	"testing"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

func TestLogIndexMonotonic(t *testing.T) {
	log := NewLog(3)

	for i := 0; i < 10; i++ {
		entry := log.Append(domain.BroadcastLogEntry{Group: fmt.Sprintf("g%d", i)})
		if entry.Index != uint64(i) {
			t.Fatalf("expected index %d, got %d", i, entry.Index)
		}
	}

	recent := log.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(recent))
	}
	// Oldest retained entry is index 7; indexes keep counting across evictions.
	if recent[0].Index != 7 || recent[2].Index != 9 {
		t.Fatalf("unexpected retained indexes: %d..%d", recent[0].Index, recent[2].Index)
	}
	if log.NextIndex() != 10 {
		t.Fatalf("expected next index 10, got %d", log.NextIndex())
	}
}

func TestLogAssignsTime(t *testing.T) {
	log := NewLog(10)
	entry := log.Append(domain.BroadcastLogEntry{Group: "g", Status: domain.OutcomeSent})
	if entry.Time.IsZero() {
		t.Fatal("expected timestamp to be assigned")
	}
}

func TestLogConcurrentAppend(t *testing.T) {
	log := NewLog(50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Append(domain.BroadcastLogEntry{Group: "g"})
			}
		}()
	}
	wg.Wait()

	if log.NextIndex() != 1000 {
		t.Fatalf("expected 1000 appends, got %d", log.NextIndex())
	}
	recent := log.Recent()
	if len(recent) != 50 {
		t.Fatalf("expected 50 retained, got %d", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Index != recent[i-1].Index+1 {
			t.Fatalf("retained indexes not contiguous at %d: %d then %d", i, recent[i-1].Index, recent[i].Index)
		}
	}
}

func TestRingEviction(t *testing.T) {
	ring := NewRing(2)
	ring.Add("first")
	ring.Add("second %d", 2)
	ring.Add("third")

	lines := ring.Snapshot()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "second 2" || lines[1] != "third" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}
