package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDebitAndBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)

	if err := l.Credit(ctx, "user-1", 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Debit(ctx, "user-1", 3, "upscale_image"); err != nil {
		t.Fatal(err)
	}
	b, _ := l.Balance(ctx, "user-1")
	if b != 7 {
		t.Errorf("balance = %d, want 7", b)
	}
}

func TestDebitInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	if err := l.Credit(ctx, "user-1", 2); err != nil {
		t.Fatal(err)
	}

	err := l.Debit(ctx, "user-1", 5, "generate_image")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
	// Failed debit must not change the balance.
	b, _ := l.Balance(ctx, "user-1")
	if b != 2 {
		t.Errorf("balance = %d, want 2", b)
	}
}

func TestUnknownUserHasZeroBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	b, err := l.Balance(ctx, "nobody")
	if err != nil || b != 0 {
		t.Errorf("balance = %d err = %v", b, err)
	}
	if err := l.Debit(ctx, "nobody", 1, "x"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("got %v", err)
	}
}

func TestConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	if err := l.Credit(ctx, "user-1", 50); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Debit(ctx, "user-1", 1, "remove_background") //nolint:errcheck
		}()
	}
	wg.Wait()

	// Exactly 50 debits can succeed; the balance never goes negative.
	b, _ := l.Balance(ctx, "user-1")
	if b != 0 {
		t.Errorf("balance = %d, want 0", b)
	}
}
