// Package wallet implements atomic available/used/realized-PnL accounting
// in arbitrary-precision decimal (C3). A single mutex serializes the
// read-validate-write cycle per spec.md §5's explicitly permitted
// single-mutex-per-entity discipline, mirroring the teacher's risk.Manager
// guard around shared state.
package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// Wallet tracks available/used/realized-PnL balances for one trading
// session. All mutations go through Debit/Credit/SettleFee/RecordRealized so the
// total = available + used invariant always holds.
type Wallet struct {
	mu sync.Mutex

	available       decimal.Decimal
	used            decimal.Decimal
	realizedPnL     decimal.Decimal
	startingBalance decimal.Decimal
	updatedAt       time.Time
}

// New creates a wallet seeded with the given starting balance, fully
// available and nothing used.
func New(startingBalance decimal.Decimal) *Wallet {
	return &Wallet{
		available:       startingBalance,
		used:            decimal.Zero,
		realizedPnL:     decimal.Zero,
		startingBalance: startingBalance,
		updatedAt:       time.Now(),
	}
}

// Snapshot returns a point-in-time read of the wallet.
func (w *Wallet) Snapshot() types.WalletSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wallet) snapshotLocked() types.WalletSnapshot {
	return types.WalletSnapshot{
		Available:       w.available,
		Used:            w.used,
		RealizedPnL:     w.realizedPnL,
		Total:           w.available.Add(w.used),
		StartingBalance: w.startingBalance,
		UpdatedAt:       w.updatedAt,
	}
}

// Debit reserves amount+fee from available into used. Fails with
// ErrInsufficientFunds, leaving the wallet entirely unchanged, when
// available < amount+fee.
func (w *Wallet) Debit(amount, fee decimal.Decimal) (types.WalletSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	required := amount.Add(fee)
	if w.available.LessThan(required) {
		return w.snapshotLocked(), fmt.Errorf("%w: available=%s required=%s", errs.ErrInsufficientFunds, w.available, required)
	}

	w.available = w.available.Sub(required)
	w.used = w.used.Add(required)
	w.updatedAt = time.Now()
	return w.snapshotLocked(), nil
}

// Credit releases amount back into available (e.g. proceeds of a sell, or
// returning a previously-used reservation). Credits always succeed.
func (w *Wallet) Credit(amount decimal.Decimal) types.WalletSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Credit first drains from used (undoing a prior reservation) before
	// adding any remainder to available, keeping total = available + used
	// while never letting used go negative.
	if w.used.GreaterThanOrEqual(amount) {
		w.used = w.used.Sub(amount)
		w.available = w.available.Add(amount)
	} else {
		remainder := amount.Sub(w.used)
		w.available = w.available.Add(w.used).Add(remainder)
		w.used = decimal.Zero
	}
	w.updatedAt = time.Now()
	return w.snapshotLocked()
}

// SettleFee permanently removes fee from a prior Debit reservation.
// Unlike Credit, it does not return to available — a brokerage fee has
// been paid away, not released back to the trader, so settling it reduces
// total (available+used) by fee.
func (w *Wallet) SettleFee(fee decimal.Decimal) types.WalletSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.used.LessThan(fee) {
		fee = w.used
	}
	w.used = w.used.Sub(fee)
	w.updatedAt = time.Now()
	return w.snapshotLocked()
}

// RecordRealized adds a realized PnL delta (positive or negative) to the
// running total, also crediting/debiting available by the same amount so
// total reflects the book-keeping immediately.
func (w *Wallet) RecordRealized(pnl decimal.Decimal) types.WalletSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.realizedPnL = w.realizedPnL.Add(pnl)
	w.available = w.available.Add(pnl)
	w.updatedAt = time.Now()
	return w.snapshotLocked()
}
