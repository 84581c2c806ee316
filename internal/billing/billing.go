// Package billing meters credit consumption for tool executions.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrInsufficientCredits is returned when a debit would take a balance
// below zero. It is session-fatal for the agent loop.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger tracks per-user credit balances. Implementations must be safe
// for concurrent use.
type Ledger interface {
	// Balance returns the user's current credit balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// Debit atomically deducts amount from the user's balance. Returns
	// ErrInsufficientCredits without changing the balance when the user
	// cannot cover it.
	Debit(ctx context.Context, userID string, amount int64, reason string) error

	// Credit adds amount to the user's balance.
	Credit(ctx context.Context, userID string, amount int64) error
}

// MemoryLedger is an in-memory Ledger for tests and single-node
// deployments.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	logger   *slog.Logger
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(logger *slog.Logger) *MemoryLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryLedger{
		balances: make(map[string]int64),
		logger:   logger,
	}
}

// Balance returns the user's current balance. Unknown users have zero.
func (l *MemoryLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// Debit deducts amount, failing atomically when the balance is too low.
func (l *MemoryLedger) Debit(_ context.Context, userID string, amount int64, reason string) error {
	if amount < 0 {
		return fmt.Errorf("negative debit amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.balances[userID]
	if current < amount {
		return fmt.Errorf("debit %d for %q (balance %d): %w", amount, reason, current, ErrInsufficientCredits)
	}
	l.balances[userID] = current - amount

	l.logger.Debug("credits debited",
		"user_id", userID,
		"amount", amount,
		"reason", reason,
		"balance", l.balances[userID])
	return nil
}

// Credit adds amount to the user's balance.
func (l *MemoryLedger) Credit(_ context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative credit amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}
