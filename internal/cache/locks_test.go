package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
)

func TestKeyedLocker_Exclusive(t *testing.T) {
	l := NewKeyedLocker(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := l.Lock(ctx, "a"); errors.GetCode(err) != errors.CodeTimeout {
		t.Errorf("second Lock() code = %v, want %v", errors.GetCode(err), errors.CodeTimeout)
	}

	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()

	unlock()
	unlock() // releasing twice is a no-op

	again, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock() after release: %v", err)
	}
	again()

	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after all releases", l.Len())
	}
}

func TestKeyedLocker_Canceled(t *testing.T) {
	l := NewKeyedLocker(0)
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := l.Lock(ctx, "a"); errors.GetCode(err) != errors.CodeUnavailable {
		t.Errorf("Lock() code = %v, want %v", errors.GetCode(err), errors.CodeUnavailable)
	}
}
