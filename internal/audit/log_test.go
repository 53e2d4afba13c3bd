package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"vendoraccess.org/internal/auth"
)

type collector struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *collector) sink(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *collector) all() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func TestRecorderEnrichesAndSigns(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	signer := NewSigner([]byte("audit-signing-key"))
	var got collector
	rec := NewRecorder(8, WithSink(got.sink), WithSigner(signer), WithClock(func() time.Time { return at }))

	ctx := auth.ContextWithUser(context.Background(), "admin-1", nil)
	ctx = WithRequestID(ctx, "req-9")
	rec.Log(ctx, Entry{Action: ActionGrantCreate, Metadata: map[string]string{"k": "v"}})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := got.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" || !e.OccurredAt.Equal(at) {
		t.Fatalf("entry not enriched: %+v", e)
	}
	if e.Severity != SeverityInfo {
		t.Fatalf("default severity = %s", e.Severity)
	}
	if e.ActorID != "admin-1" || e.RequestID != "req-9" {
		t.Fatalf("context not applied: actor=%q request=%q", e.ActorID, e.RequestID)
	}
	if !signer.Verify(e) {
		t.Fatalf("signature does not verify")
	}
	e.Reason = "tampered"
	if signer.Verify(e) {
		t.Fatalf("tampered entry verified")
	}
}

func TestRecorderNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	rec := NewRecorder(1, WithSink(func(Entry) { <-release }))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			rec.Log(context.Background(), Entry{Action: ActionAccessValidate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Log blocked on a slow sink")
	}
	if rec.Dropped() == 0 {
		t.Fatalf("expected dropped entries")
	}
	close(release)
	_ = rec.Close()
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	var got collector
	rec := NewRecorder(4, WithSink(got.sink))
	_ = rec.Close()
	_ = rec.Close()
	rec.Log(context.Background(), Entry{Action: ActionTokenIssue})
	if len(got.all()) != 0 || rec.Dropped() != 1 {
		t.Fatalf("expected entry to be dropped after close")
	}
}

func TestSeverityForRisk(t *testing.T) {
	cases := map[int]Severity{
		0: SeverityInfo, 19: SeverityInfo, 20: SeverityLow, 39: SeverityLow,
		40: SeverityMedium, 60: SeverityHigh, 79: SeverityHigh, 80: SeverityCritical, 100: SeverityCritical,
	}
	for score, want := range cases {
		if got := SeverityForRisk(score); got != want {
			t.Fatalf("SeverityForRisk(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestSignatureSurvivesMicrosecondStorage(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.FixedZone("UTC+5", 5*3600))
	signer := NewSigner([]byte("audit-signing-key"))
	var got collector
	rec := NewRecorder(4, WithSink(got.sink), WithSigner(signer), WithClock(func() time.Time { return at }))
	rec.Log(context.Background(), Entry{Action: ActionAccessRevoke, Severity: SeverityHigh})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e := got.all()[0]
	if e.OccurredAt.Nanosecond()%1000 != 0 {
		t.Fatalf("occurred_at not truncated to microseconds: %v", e.OccurredAt)
	}
	stored := e
	stored.OccurredAt = e.OccurredAt.Truncate(time.Microsecond).In(time.Local)
	if !signer.Verify(stored) {
		t.Fatal("entry read back at microsecond precision does not verify")
	}

	direct := Entry{ID: "e1", OccurredAt: at, Action: ActionAccessRevoke, Severity: SeverityHigh}
	direct.Signature = signer.Sign(direct)
	direct.OccurredAt = direct.OccurredAt.Truncate(time.Microsecond)
	if !signer.Verify(direct) {
		t.Fatal("nanosecond timestamp signed directly does not verify after truncation")
	}
}
