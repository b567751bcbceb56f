package api

import (
	"time"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/engine"
	"dhan-scalper-sub003/internal/risk"
)

// Provider is what the engine exposes to the introspection API: a
// read-only snapshot, the risk ladder's gating state, config, and a feed
// of fill/kill notifications.
type Provider interface {
	Snapshot() engine.Snapshot
	RiskSnapshot() risk.Snapshot
	Config() config.Config
	Events() <-chan engine.Event
}

// BuildSnapshot aggregates state from the engine into a dashboard snapshot.
func BuildSnapshot(provider Provider) DashboardSnapshot {
	snap := provider.Snapshot()

	positions := make([]PositionStatus, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if !p.IsOpen() {
			continue
		}
		positions = append(positions, NewPositionStatus(p))
	}

	riskSnap := provider.RiskSnapshot()

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Mode:      snap.Mode,
		Wallet:    snap.Wallet,
		Equity:    snap.Equity,
		Positions: positions,
		Risk: RiskSnapshot{
			EntriesAllowed: riskSnap.EntriesAllowed,
			DailyCapHit:    riskSnap.DailyCapHit,
			InCooldown:     riskSnap.InCooldown,
			StartEquity:    riskSnap.StartEquity,
			MaxDailyLossRs: riskSnap.MaxDailyLossRs,
		},
		Config: NewConfigSummary(provider.Config()),
	}
}
