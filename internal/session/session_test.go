package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAcquireCachesSession(t *testing.T) {
	var calls int32
	mgr := NewManager(func(ctx context.Context) (*Session, error) {
		atomic.AddInt32(&calls, 1)
		return &Session{Token: "crumb-1"}, nil
	})

	s1, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s2, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if s1 != s2 {
		t.Error("expected the cached session on repeat acquire")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one handshake, got %d", calls)
	}
}

func TestInvalidateForcesFreshSession(t *testing.T) {
	var n int32
	mgr := NewManager(func(ctx context.Context) (*Session, error) {
		id := atomic.AddInt32(&n, 1)
		return &Session{Token: fmt.Sprintf("crumb-%d", id)}, nil
	})

	s1, _ := mgr.Acquire(context.Background())
	mgr.Invalidate()
	s2, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after invalidate failed: %v", err)
	}

	if s1 == s2 {
		t.Error("acquire after invalidate must never return the invalidated session")
	}
	if s2.Token != "crumb-2" {
		t.Errorf("expected a fresh handshake result, got %q", s2.Token)
	}
}

func TestTokenlessSessionIsCached(t *testing.T) {
	var calls int32
	mgr := NewManager(func(ctx context.Context) (*Session, error) {
		atomic.AddInt32(&calls, 1)
		// Handshake obtained cookies but no crumb.
		return &Session{Token: ""}, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := mgr.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("weaker session must still be cached; handshake ran %d times", calls)
	}
}

func TestHandshakeErrorNotCached(t *testing.T) {
	fail := true
	mgr := NewManager(func(ctx context.Context) (*Session, error) {
		if fail {
			return nil, errors.New("connect: refused")
		}
		return &Session{Token: "ok"}, nil
	})

	if _, err := mgr.Acquire(context.Background()); err == nil {
		t.Fatal("expected handshake error to propagate")
	}
	fail = false
	s, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after recovery failed: %v", err)
	}
	if s.Token != "ok" {
		t.Errorf("expected recovered session, got %+v", s)
	}
}

func TestConcurrentAcquireNeverObservesPartialSession(t *testing.T) {
	mgr := NewManager(func(ctx context.Context) (*Session, error) {
		return &Session{Token: "tok"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s, err := mgr.Acquire(context.Background())
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				if s.Token != "tok" {
					t.Errorf("observed half-initialized session: %+v", s)
					return
				}
				if j%10 == 0 {
					mgr.Invalidate()
				}
			}
		}()
	}
	wg.Wait()
}
