package stream

import (
	"context"
	"testing"
	"time"

	"vendoraccess.org/internal/audit"
)

func TestPublishFiltersBySeverity(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := s.Subscribe(ctx, "")
	high := s.Subscribe(ctx, audit.SeverityHigh)

	s.Publish(audit.Entry{ID: "1", Severity: audit.SeverityInfo})
	s.Publish(audit.Entry{ID: "2", Severity: audit.SeverityCritical})

	for _, want := range []string{"1", "2"} {
		select {
		case e := <-all:
			if e.ID != want {
				t.Fatalf("all got %s, want %s", e.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case e := <-high:
		if e.ID != "2" {
			t.Fatalf("high got %s, want 2", e.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for critical entry")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, "")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
}
