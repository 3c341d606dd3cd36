package workqueue

import (
	"context"
	"testing"
	"time"
)

func TestPushPopOrdering(t *testing.T) {
	q := New()
	q.Push(&Item{Key: "c", BasePriority: 4, Size: 1})
	q.Push(&Item{Key: "a", BasePriority: 1, Size: 100})
	q.Push(&Item{Key: "b", BasePriority: 1, Size: 5})

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	if !ok || first.Key != "b" {
		t.Fatalf("expected b first (same priority, smaller size), got %+v", first)
	}
	second, ok := q.Pop(ctx)
	if !ok || second.Key != "a" {
		t.Fatalf("expected a second, got %+v", second)
	}
	third, ok := q.Pop(ctx)
	if !ok || third.Key != "c" {
		t.Fatalf("expected c third, got %+v", third)
	}
}

func TestRetryBoostsPriority(t *testing.T) {
	q := New()
	q.Push(&Item{Key: "fresh", BasePriority: 4})
	q.Push(&Item{Key: "retried", BasePriority: 4, RetryCount: 2})

	it, ok := q.Pop(context.Background())
	if !ok || it.Key != "retried" {
		t.Fatalf("expected retried item first due to adjusted priority, got %+v", it)
	}
}

func TestPopBlocksThenUnblocks(t *testing.T) {
	q := New()
	resultCh := make(chan *Item, 1)
	go func() {
		it, ok := q.Pop(context.Background())
		if ok {
			resultCh <- it
		} else {
			resultCh <- nil
		}
	}()

	select {
	case <-resultCh:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(&Item{Key: "x"})
	select {
	case it := <-resultCh:
		if it == nil || it.Key != "x" {
			t.Fatalf("expected x, got %+v", it)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never returned after push")
	}
}

func TestCloseWakesBlockedPop(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Pop to return ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestPopRespectsContextCancellation(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Pop(ctx)
	if ok {
		t.Fatal("expected Pop to return ok=false on context deadline")
	}
}

func TestRemoveAndLen(t *testing.T) {
	q := New()
	q.Push(&Item{Key: "a"})
	q.Push(&Item{Key: "b"})
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	if !q.Remove("a") {
		t.Fatal("expected remove to succeed")
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	if q.Remove("a") {
		t.Fatal("expected second remove to fail")
	}
}

func TestDrain(t *testing.T) {
	q := New()
	q.Push(&Item{Key: "a"})
	q.Push(&Item{Key: "b"})
	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("drain returned %d items, want 2", len(items))
	}
	if q.Len() != 0 {
		t.Fatal("queue should be empty after drain")
	}
}
