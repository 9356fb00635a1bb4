package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0)
	id1, err := pub.Publish(context.Background(), "clones", map[string]any{"run_id": "a"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	if got := pub.Messages(""); len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	clones := pub.Messages("clones")
	if len(clones) != 1 || clones[0].ID != "memory-1" {
		t.Fatalf("topic filter not applied: %+v", clones)
	}

	clones[0].Topic = "modified"
	if pub.Messages("clones")[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherLimitDropsOldest(t *testing.T) {
	t.Parallel()

	pub := New(2)
	for i := 0; i < 3; i++ {
		if _, err := pub.Publish(context.Background(), "clones", i); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	msgs := pub.Messages("")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 retained messages, got %d", len(msgs))
	}
	if msgs[0].Payload != 1 || msgs[1].Payload != 2 {
		t.Fatalf("expected newest payloads, got %+v", msgs)
	}
}
