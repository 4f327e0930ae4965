package engine

import (
	"testing"

	"stagehand/internal/domain"
)

func TestViewOrdersNewestFirst(t *testing.T) {
	v := NewView()
	v.Upsert(domain.Generation{ID: "a", UserID: "u"})
	v.Upsert(domain.Generation{ID: "b", UserID: "u"})
	v.Upsert(domain.Generation{ID: "a", UserID: "u", Status: domain.StatusProcessing})

	snap := v.SnapshotUser("u")
	if len(snap) != 2 {
		t.Fatalf("len = %d", len(snap))
	}
	// Re-upserting must not move an existing record.
	if snap[0].ID != "b" || snap[1].ID != "a" {
		t.Fatalf("order = %s,%s", snap[0].ID, snap[1].ID)
	}
	if snap[1].Status != domain.StatusProcessing {
		t.Fatal("upsert did not replace the record")
	}
}

func TestViewSubscribeDeliversAndCancels(t *testing.T) {
	v := NewView()
	events, cancel := v.Subscribe()

	v.Upsert(domain.Generation{ID: "a", UserID: "u"})
	ev := <-events
	if ev.Generation.ID != "a" {
		t.Fatalf("got %s", ev.Generation.ID)
	}

	cancel()
	if _, ok := <-events; ok {
		t.Fatal("channel must close on cancel")
	}
}

func TestViewSlowSubscriberNeverBlocksWriter(t *testing.T) {
	v := NewView()
	_, cancel := v.Subscribe() // never read from
	defer cancel()

	// Overflow the subscriber buffer; Upsert must not block.
	for i := 0; i < 100; i++ {
		v.Upsert(domain.Generation{ID: "a", UserID: "u", Status: domain.StatusQueued})
	}
	if _, ok := v.Get("a"); !ok {
		t.Fatal("record lost")
	}
}
