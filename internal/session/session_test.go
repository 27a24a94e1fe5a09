package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/kotoba/internal/quiz"
)

func sampleState() quiz.State {
	return quiz.State{
		QuizID: "soal1",
		Gate:   quiz.AuthGate{Step: quiz.StepResolved, Username: "taro", Password: "secret"},
		Attempt: quiz.Attempt{
			CurrentIndex: 2,
			Answers:      []string{"neko", "inu"},
			Score:        20.0 / 3,
			CorrectCount: 2,
		},
	}
}

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	id := NewID()

	if _, err := c.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Set(ctx, id, sampleState()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.QuizID != "soal1" || got.Attempt.CurrentIndex != 2 || len(got.Attempt.Answers) != 2 {
		t.Errorf("unexpected state %+v", got)
	}
	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache(0))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", sampleState())
	_ = c.Set(ctx, "b", sampleState())
	now = now.Add(2 * time.Minute)
	_ = c.Set(ctx, "c", sampleState())

	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired entry, got %v", err)
	}
	if n := c.Sweep(); n != 1 {
		t.Errorf("expected 1 swept entry, got %d", n)
	}
	if _, err := c.Get(ctx, "c"); err != nil {
		t.Errorf("expected live entry, got %v", err)
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("KOTOBA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOTOBA_TEST_REDIS_ADDR not set")
	}
	c := NewRedisCache(addr, "", 0, time.Minute)
	t.Cleanup(func() { c.Close() })
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseCache(t, c)

	// Passwords never leave the process.
	ctx := context.Background()
	id := NewID()
	if err := c.Set(ctx, id, sampleState()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := c.Get(ctx, id)
	if got.Gate.Password != "" {
		t.Errorf("password was serialized")
	}
}

func TestManagerLockSerializes(t *testing.T) {
	m := NewManager(NewMemoryCache(0))
	ctx := context.Background()
	id := NewID()
	if err := m.Save(ctx, id, quiz.State{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(id)
			defer unlock()
			st, err := m.Load(ctx, id)
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			st.Attempt.CurrentIndex++
			if err := m.Save(ctx, id, st); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	st, _ := m.Load(ctx, id)
	if st.Attempt.CurrentIndex != n {
		t.Errorf("expected %d serialized increments, got %d", n, st.Attempt.CurrentIndex)
	}
	if len(m.locks) != 0 {
		t.Errorf("expected lock table to drain, got %d entries", len(m.locks))
	}

	if err := m.Drop(ctx, id); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := m.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after Drop, got %v", err)
	}
}
