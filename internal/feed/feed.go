// Package feed implements FeedManager (C5): a resilient WebSocket
// subscription manager with exponential backoff + jitter reconnect,
// heartbeat-based liveness, baseline+position resubscription on reconnect,
// and an ordered-tick filter feeding TickCache. Generalized directly from
// the teacher's internal/exchange/ws.go WSFeed: same reconnect/dispatch
// architecture, adapted to one stream carrying both baseline and
// position-driven subscriptions instead of a market/user channel split.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/instrument"
	"dhan-scalper-sub003/internal/tickcache"
	"dhan-scalper-sub003/pkg/types"
)

// State is the FeedManager connection lifecycle state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Stopped      State = "stopped"
)

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultMaxDelay         = 300 * time.Second
	defaultMaxAttempts      = 10
	pingInterval            = 20 * time.Second
	writeTimeout            = 10 * time.Second
	rawPacketBuffer         = 512
)

// wirePacket is the raw heterogeneous packet shape the upstream transport
// sends; exact field presence varies by instrument_type, mirroring the
// "multiple variants of tick payload" pattern spec.md §9 calls out.
type wirePacket struct {
	Segment        string  `json:"segment"`
	SecurityID     string  `json:"security_id"`
	LTP            float64 `json:"ltp"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         int64   `json:"volume"`
	OI             int64   `json:"oi"`
	Timestamp      int64   `json:"ts"` // unix seconds
	Kind           string  `json:"kind"`
	InstrumentType string  `json:"instrument_type"`
}

// Manager is the FeedManager implementation.
type Manager struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	cache  *tickcache.Cache
	lookup instrument.Lookup
	logger *slog.Logger

	subMu      sync.RWMutex
	baseline   map[string]types.InstrumentKey
	positions  map[string]types.InstrumentKey
	lastTickTs map[types.InstrumentKey]time.Time

	heartbeatTimeout time.Duration
	maxDelay         time.Duration
	maxAttempts      int
	baseDelay        time.Duration

	lastTickAtMu sync.Mutex
	lastTickAt   time.Time

	reconnectCallbacks []func()

	state   State
	stateMu sync.Mutex
}

// New creates a FeedManager pointed at the given streaming URL.
func New(url string, cache *tickcache.Cache, lookup instrument.Lookup, logger *slog.Logger) *Manager {
	return &Manager{
		url:              url,
		cache:            cache,
		lookup:           lookup,
		logger:           logger.With("component", "feed"),
		baseline:         make(map[string]types.InstrumentKey),
		positions:        make(map[string]types.InstrumentKey),
		lastTickTs:       make(map[types.InstrumentKey]time.Time),
		heartbeatTimeout: defaultHeartbeatTimeout,
		maxDelay:         defaultMaxDelay,
		maxAttempts:      defaultMaxAttempts,
		baseDelay:        time.Second,
		state:            Disconnected,
	}
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// OnReconnect registers a callback invoked (idempotently) after every
// successful resubscription.
func (m *Manager) OnReconnect(fn func()) {
	m.reconnectCallbacks = append(m.reconnectCallbacks, fn)
}

// Subscribe registers an instrument under the given role. Baseline
// subscriptions persist for the engine's lifetime; position subscriptions
// are added/removed as positions open/close.
func (m *Manager) Subscribe(inst types.InstrumentKey, role types.SubscriptionRole) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := string(inst.Segment) + ":" + inst.SecurityID
	switch role {
	case types.RoleBaseline:
		m.baseline[id] = inst
	default:
		m.positions[id] = inst
	}
	m.sendSubscribe(inst)
}

// Unsubscribe removes a security id from the position set (baseline
// subscriptions are never individually unsubscribed).
func (m *Manager) Unsubscribe(securityID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, inst := range m.positions {
		if inst.SecurityID == securityID {
			delete(m.positions, id)
			m.sendUnsubscribe(inst)
			return
		}
	}
}

// Start runs the reconnect loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	go m.heartbeatLoop(ctx)

	attempt := 0
	delay := m.baseDelay
	for {
		if ctx.Err() != nil {
			m.setState(Stopped)
			return ctx.Err()
		}

		m.setState(Connecting)
		err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			m.setState(Stopped)
			return ctx.Err()
		}

		attempt++
		if attempt > m.maxAttempts {
			m.setState(Stopped)
			m.logger.Error("feed permanently failed after max attempts", "attempts", attempt)
			return fmt.Errorf("feed: giving up after %d attempts: %w", attempt, err)
		}

		m.setState(Disconnected)
		m.logger.Warn("feed disconnected, reconnecting", "error", err, "delay", delay, "attempt", attempt)

		jitter := time.Duration(rand.Int63n(int64(delay) / 10 + 1))
		select {
		case <-ctx.Done():
			m.setState(Stopped)
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay *= 2
		if delay > m.maxDelay {
			delay = m.maxDelay
		}
	}
}

// Stop closes the underlying connection.
func (m *Manager) Stop() error {
	m.setState(Stopped)
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

func (m *Manager) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	defer func() {
		m.connMu.Lock()
		conn.Close()
		m.conn = nil
		m.connMu.Unlock()
	}()

	m.resubscribeAll()
	m.setState(Connected)
	for _, cb := range m.reconnectCallbacks {
		cb()
	}
	m.touchHeartbeat()

	m.logger.Info("feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(m.heartbeatTimeout * 3))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.touchHeartbeat()
		m.handlePacket(msg)
	}
}

// resubscribeAll resubscribes baseline then position instruments,
// satisfying the invariant that after reconnect, the subscribed set is
// exactly (baseline ∪ positions).
func (m *Manager) resubscribeAll() {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, inst := range m.baseline {
		m.sendSubscribe(inst)
	}
	for _, inst := range m.positions {
		m.sendSubscribe(inst)
	}
}

func (m *Manager) sendSubscribe(inst types.InstrumentKey) {
	m.writeJSON(map[string]any{
		"op": "subscribe", "segment": inst.Segment, "security_id": inst.SecurityID,
	})
}

func (m *Manager) sendUnsubscribe(inst types.InstrumentKey) {
	m.writeJSON(map[string]any{
		"op": "unsubscribe", "segment": inst.Segment, "security_id": inst.SecurityID,
	})
}

func (m *Manager) writeJSON(v any) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := m.conn.WriteJSON(v); err != nil {
		m.logger.Warn("feed write failed", "error", err)
	}
}

func (m *Manager) handlePacket(raw []byte) {
	var pkt wirePacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		m.logger.Debug("ignoring non-json feed message", "error", err)
		return
	}
	if pkt.SecurityID == "" {
		return
	}
	if pkt.Segment == "" && m.lookup != nil {
		if seg, ok := m.lookup.ExchangeSegment(pkt.SecurityID); ok {
			pkt.Segment = string(seg)
		}
	}
	if pkt.Segment == "" {
		return
	}

	key := types.InstrumentKey{Segment: types.Segment(pkt.Segment), SecurityID: pkt.SecurityID}
	ts := time.Unix(pkt.Timestamp, 0)

	m.subMu.Lock()
	last, seen := m.lastTickTs[key]
	if seen && ts.Before(last) {
		m.subMu.Unlock()
		m.logger.Debug("dropping out-of-order tick", "key", key, "ts", ts, "last", last)
		return
	}
	m.lastTickTs[key] = ts
	m.subMu.Unlock()

	tick := types.Tick{
		Segment:        key.Segment,
		SecurityID:     key.SecurityID,
		LTP:            decimal.NewFromFloat(pkt.LTP),
		Open:           decimal.NewFromFloat(pkt.Open),
		High:           decimal.NewFromFloat(pkt.High),
		Low:            decimal.NewFromFloat(pkt.Low),
		Close:          decimal.NewFromFloat(pkt.Close),
		Volume:         pkt.Volume,
		OI:             pkt.OI,
		Timestamp:      ts,
		Kind:           pkt.Kind,
		InstrumentType: types.InstrumentType(pkt.InstrumentType),
	}
	m.cache.Put(tick)
}

func (m *Manager) touchHeartbeat() {
	m.lastTickAtMu.Lock()
	m.lastTickAt = time.Now()
	m.lastTickAtMu.Unlock()
}

// heartbeatLoop forces a reconnect (by closing the connection) if no data
// has been observed within heartbeatTimeout while Connected.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != Connected {
				continue
			}
			m.lastTickAtMu.Lock()
			stale := time.Since(m.lastTickAt) > m.heartbeatTimeout
			m.lastTickAtMu.Unlock()
			if stale {
				m.logger.Warn("feed heartbeat timeout, forcing reconnect")
				m.connMu.Lock()
				if m.conn != nil {
					m.conn.Close()
				}
				m.connMu.Unlock()
			}
		}
	}
}
