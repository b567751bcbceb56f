// Package errs defines the typed error taxonomy shared across the engine.
// Components return these sentinels (wrapped with context via fmt.Errorf's
// %w) instead of using errors as control flow, per the engine's error
// handling design.
package errs

import "errors"

var (
	// ErrInsufficientFunds is returned by Wallet when a debit would drive
	// available balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidQuantity is returned when an order or position operation is
	// given a non-positive or lot-misaligned quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidOrder is returned by OrderGateway when a request fails
	// structural validation before it reaches the broker.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidInstrument signals a security_id not found in the loaded
	// instrument master. InstrumentMaster reports a miss with ok=false and
	// does not return this error.
	ErrInvalidInstrument = errors.New("invalid instrument")

	// ErrOversell is returned by PositionStore when a sell quantity exceeds
	// the open net quantity for that instrument.
	ErrOversell = errors.New("oversell: exceeds open position")

	// ErrDuplicateOrder is returned by OrderGateway when a request matches a
	// dedupe key still inside its TTL window.
	ErrDuplicateOrder = errors.New("duplicate order suppressed")

	// ErrDuplicateExit signals an exit whose idempotency key for
	// (security_id, reason) has already been issued this session. No code in
	// this module returns it.
	ErrDuplicateExit = errors.New("duplicate exit suppressed")

	// ErrBrokerRejection wraps a rejection returned by the broker itself
	// (as opposed to a transport failure).
	ErrBrokerRejection = errors.New("broker rejected order")

	// ErrBrokerUnavailable is returned when the broker transport cannot be
	// reached after retries.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrStaleTick signals that no tick is fresher than the caller's
	// staleness tolerance. TickCache has no staleness check and does not
	// return it.
	ErrStaleTick = errors.New("stale tick")

	// ErrNoTick is returned by TickCache when no tick has ever been recorded
	// for the requested instrument and no LTP fallback is used (fallback not
	// requested, or no lookup configured). A failed fallback lookup returns
	// the lookup's own error instead.
	ErrNoTick = errors.New("no tick available")

	// ErrKillSwitchActive signals that new entries are blocked because the
	// daily loss cap has been breached. No code in this module returns it.
	ErrKillSwitchActive = errors.New("kill switch active: daily loss cap breached")

	// ErrConfiguration is returned when configuration fails validation.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrReconciliationMismatch signals a discrepancy between broker-reported
	// state and local tracker state that could not be auto-repaired. The
	// Reconciler does not return it.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")

	// ErrSchedulerJobExists signals a scheduler job name that collides with
	// one already registered. The Scheduler does not return it.
	ErrSchedulerJobExists = errors.New("scheduler job already registered")

	// ErrSessionNotStarted is returned when session-scoped operations are
	// attempted before the session has been loaded or created.
	ErrSessionNotStarted = errors.New("session not started")
)
