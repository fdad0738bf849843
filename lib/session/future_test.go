package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFuture_FirstWriterWins(t *testing.T) {
	f := NewFuture()
	errA := errors.New("a")
	errB := errors.New("b")

	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for _, err := range []error{errA, errB} {
		wg.Add(1)
		go func(e error) {
			defer wg.Done()
			wins <- f.Complete(e)
		}(err)
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d writers won, want exactly 1", won)
	}
	if f.Err() != errA && f.Err() != errB {
		t.Fatalf("Err = %v", f.Err())
	}
}

func TestFuture_AllObserversSeeSameValue(t *testing.T) {
	f := NewFuture()
	sentinel := errors.New("outcome")

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			<-f.Done()
			results <- f.Err()
		}()
	}
	f.Complete(sentinel)

	for i := 0; i < 8; i++ {
		if err := <-results; !errors.Is(err, sentinel) {
			t.Fatalf("observer %d saw %v", i, err)
		}
	}
}

func TestFuture_AwaitContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await on pending future = %v", err)
	}

	f.Complete(nil)
	if err := f.Await(context.Background()); err != nil {
		t.Fatalf("Await after success = %v", err)
	}
}

func TestFuture_CompletedIsIdempotent(t *testing.T) {
	f := NewFuture()
	if f.Completed() {
		t.Fatal("fresh future reports completed")
	}
	if !f.Complete(nil) {
		t.Fatal("first completion rejected")
	}
	if f.Complete(errors.New("late")) {
		t.Fatal("second completion succeeded")
	}
	if f.Err() != nil {
		t.Fatalf("late completion overwrote value: %v", f.Err())
	}
}
