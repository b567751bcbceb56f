// Package reconciler implements Reconciler (C12): periodically pulls
// broker-reported positions and diffs them against PositionStore,
// classifying and repairing discrepancies. Grounded on the bot's
// engine.reconcileMarkets diff-desired-vs-actual-set pattern — same
// shape, applied to broker positions vs tracked positions instead of
// scanner markets vs running market slots.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"dhan-scalper-sub003/internal/broker"
	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/pkg/types"
)

// Report summarizes one reconciliation pass, for logging/tests.
type Report struct {
	MissingInTracker []types.PositionKey
	MissingInBroker  []types.PositionKey
	QuantityMismatch []types.PositionKey
}

// Reconciler diffs PositionStore against broker-reported truth.
type Reconciler struct {
	broker broker.Broker
	store  *position.Store
	logger *slog.Logger
}

// New wires a Reconciler to its broker and position-store collaborators.
func New(b broker.Broker, store *position.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{broker: b, store: store, logger: logger.With("component", "reconciler")}
}

// Reconcile runs one pass: pull broker positions, diff against the
// tracker's open positions, repair each discrepancy. Errors pulling
// broker positions are logged and do not abort the caller's loop.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	var report Report

	brokerPositions, err := r.broker.GetPositions(ctx)
	if err != nil {
		r.logger.Error("failed to pull broker positions", "error", err)
		return report
	}

	brokerByKey := make(map[types.PositionKey]broker.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		key := types.PositionKey{Segment: bp.Segment, SecurityID: bp.SecurityID, Side: "LONG"}
		brokerByKey[key] = bp
	}

	tracked := make(map[types.PositionKey]types.Position)
	for _, p := range r.store.OpenPositions() {
		tracked[p.Key] = p
	}

	for key, bp := range brokerByKey {
		trackerPos, ok := tracked[key]
		if !ok {
			r.logger.Info("reconcile: missing_in_tracker", "security_id", key.SecurityID, "broker_qty", bp.NetQty, "broker_avg", bp.BuyAvg)
			r.store.Align(key.Segment, key.SecurityID, key.Side, bp.NetQty, bp.BuyAvg, nil)
			report.MissingInTracker = append(report.MissingInTracker, key)
			continue
		}

		if !trackerPos.NetQty.Equal(bp.NetQty) {
			r.logger.Info("reconcile: quantity_mismatch", "security_id", key.SecurityID, "tracker_qty", trackerPos.NetQty, "broker_qty", bp.NetQty)
			r.store.Align(key.Segment, key.SecurityID, key.Side, bp.NetQty, bp.BuyAvg, trackerPos.OptionType)
			report.QuantityMismatch = append(report.QuantityMismatch, key)
		}
	}

	for key, trackerPos := range tracked {
		if _, ok := brokerByKey[key]; ok {
			continue
		}
		r.logger.Info("reconcile: missing_in_broker", "security_id", key.SecurityID, "tracker_qty", trackerPos.NetQty, "reason", types.ReasonReconciledMissing)
		r.store.CloseAt(key, trackerPos.CurrentPrice)
		report.MissingInBroker = append(report.MissingInBroker, key)
	}

	return report
}

// Run drives Reconcile on a fixed interval (default 300s per spec.md
// §4.12) until ctx is cancelled. The engine does not call Run; it runs
// Reconcile through its scheduler as the "reconcile" task.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}
