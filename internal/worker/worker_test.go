package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gsarma/sentinel/internal/store"
	"github.com/gsarma/sentinel/internal/store/storetest"
	"github.com/gsarma/sentinel/internal/worker"
)

// stubPurger implements worker.Purger for tests.
type stubPurger struct {
	mu      sync.Mutex
	calls   int
	befores []time.Time
	fn      func(ctx context.Context, before time.Time) (int64, error)
}

func (s *stubPurger) DeleteExpiredOAuthStates(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.befores = append(s.befores, before)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, before)
	}
	return 0, nil
}

func (s *stubPurger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// runUntilDone starts a worker and waits for done to be closed or the test to time out.
func runUntilDone(t *testing.T, p worker.Purger, interval time.Duration, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	w := worker.New(p, interval, nil, nil)
	go w.Start(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for sweep")
	}
}

func TestWorker_SweepsOnEveryTick(t *testing.T) {
	done := make(chan struct{})
	p := &stubPurger{}
	p.fn = func(_ context.Context, _ time.Time) (int64, error) {
		if p.callCount() == 3 {
			close(done)
		}
		return 1, nil
	}
	runUntilDone(t, p, 20*time.Millisecond, done)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, before := range p.befores {
		if time.Since(before) > time.Second {
			t.Errorf("expected cutoff near now, got %v", before)
		}
	}
}

func TestWorker_ContinuesAfterError(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once
	p := &stubPurger{}
	p.fn = func(_ context.Context, _ time.Time) (int64, error) {
		if p.callCount() == 1 {
			return 0, errors.New("connection refused")
		}
		once.Do(func() { close(done) })
		return 0, nil
	}
	runUntilDone(t, p, 20*time.Millisecond, done)
}

func TestWorker_StopsOnCancel(t *testing.T) {
	p := &stubPurger{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	returned := make(chan struct{})
	go func() {
		worker.New(p, time.Hour, nil, nil).Start(ctx)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if p.callCount() != 0 {
		t.Errorf("expected no sweep before the first tick, got %d", p.callCount())
	}
}

func TestWorker_PurgesExpiredStatesFromStore(t *testing.T) {
	repo := storetest.New()
	ctx := context.Background()
	now := time.Now().UTC()
	for token, exp := range map[string]time.Time{
		"expired": now.Add(-time.Minute),
		"live":    now.Add(time.Hour),
	} {
		if _, err := repo.InsertOAuthState(ctx, store.InsertOAuthStateParams{
			Token: token, Provider: "google", CreatedAt: now, ExpiresAt: exp,
		}); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	var once sync.Once
	p := &stubPurger{fn: func(ctx context.Context, before time.Time) (int64, error) {
		n, err := repo.DeleteExpiredOAuthStates(ctx, before)
		once.Do(func() { close(done) })
		return n, err
	}}
	runUntilDone(t, p, 10*time.Millisecond, done)

	states := repo.States()
	if len(states) != 1 || states[0].Token != "live" {
		t.Fatalf("expected only the live state to remain, got %+v", states)
	}
}
