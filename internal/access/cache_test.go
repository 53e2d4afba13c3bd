package access

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCredentialCacheCoalescesAndExpires(t *testing.T) {
	clock := newFakeClock()
	c := newCredentialCache(5*time.Second, clock.Now)
	var loads atomic.Int32
	release := make(chan struct{})
	fn := func() (credential, error) {
		loads.Add(1)
		<-release
		return credential{token: AccessToken{ID: "t1"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cred, err := c.load("h", fn); err != nil || cred.token.ID != "t1" {
				t.Errorf("load: %v %+v", err, cred)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := loads.Load(); n != 1 {
		t.Fatalf("expected one coalesced load, got %d", n)
	}

	if _, err := c.load("h", fn); err != nil || loads.Load() != 1 {
		t.Fatalf("expected cache hit")
	}
	clock.Advance(6 * time.Second)
	if _, err := c.load("h", fn); err != nil || loads.Load() != 2 {
		t.Fatalf("expected reload after ttl, loads=%d", loads.Load())
	}
}

func TestCredentialCacheInvalidateWinsOverInflightLoad(t *testing.T) {
	clock := newFakeClock()
	c := newCredentialCache(time.Minute, clock.Now)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = c.load("h", func() (credential, error) {
			close(started)
			<-release
			return credential{}, nil
		})
		close(done)
	}()
	<-started
	c.invalidate()
	close(release)
	<-done
	if c.size() != 0 {
		t.Fatalf("load started before invalidate repopulated the cache")
	}
}

func TestCredentialCacheDoesNotStoreErrors(t *testing.T) {
	c := newCredentialCache(time.Minute, time.Now)
	boom := errors.New("boom")
	if _, err := c.load("h", func() (credential, error) { return credential{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error passthrough, got %v", err)
	}
	if c.size() != 0 {
		t.Fatalf("error result was cached")
	}
}
