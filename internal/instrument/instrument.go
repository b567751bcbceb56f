// Package instrument provides the read-only instrument-metadata lookup
// collaborator (C2). Loading is out of scope per spec.md §1 ("CSV
// instrument-master loading — only its lookup interface is consumed"); this
// package defines that Lookup interface plus a minimal CSV-backed
// implementation satisfying it.
package instrument

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// Lookup is the only interface the rest of the engine consumes; how the
// table is populated (CSV file, broker API, database) is an implementation
// detail behind it.
type Lookup interface {
	SecurityID(symbol string, expiry time.Time, strike decimal.Decimal, optionType types.OptionType) (string, bool)
	ExpiryDates(symbol string) []time.Time
	Strikes(symbol string, expiry time.Time) []decimal.Decimal
	ExchangeSegment(securityID string) (types.Segment, bool)
	LotSize(securityID string) (int64, bool)
	Get(securityID string) (types.Instrument, bool)
}

// Master is a CSV-file-backed, in-memory Lookup implementation. The whole
// table is cached at load time; all operations are pure reads after that.
type Master struct {
	bySecurityID map[string]types.Instrument
	byComposite  map[compositeKey]string
	expiries     map[string]map[time.Time]struct{}
	strikes      map[expiryKey]map[string]struct{} // string key avoids decimal equality pitfalls in map
	strikeValues map[expiryKey][]decimal.Decimal
}

type compositeKey struct {
	symbol     string
	expiry     time.Time
	strike     string
	optionType types.OptionType
}

type expiryKey struct {
	symbol string
	expiry time.Time
}

// LoadCSV builds a Master from a CSV file with header row:
// security_id,segment,symbol,instrument_type,lot_size,strike,expiry,option_type
// Absent strike/expiry/option_type fields are left empty for non-option rows.
func LoadCSV(r io.Reader) (*Master, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read instrument csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty instrument csv", errs.ErrConfiguration)
	}

	m := &Master{
		bySecurityID: make(map[string]types.Instrument),
		byComposite:  make(map[compositeKey]string),
		expiries:     make(map[string]map[time.Time]struct{}),
		strikes:      make(map[expiryKey]map[string]struct{}),
		strikeValues: make(map[expiryKey][]decimal.Decimal),
	}

	for _, row := range records[1:] {
		inst, err := parseRow(row)
		if err != nil {
			return nil, err
		}
		m.index(inst)
	}
	return m, nil
}

func parseRow(row []string) (types.Instrument, error) {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	lotSize, err := strconv.ParseInt(get(4), 10, 64)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("parse lot_size: %w", err)
	}

	inst := types.Instrument{
		SecurityID:     get(0),
		Segment:        types.Segment(get(1)),
		Symbol:         get(2),
		InstrumentType: types.InstrumentType(get(3)),
		LotSize:        lotSize,
	}

	if s := get(5); s != "" {
		strike, err := decimal.NewFromString(s)
		if err != nil {
			return types.Instrument{}, fmt.Errorf("parse strike: %w", err)
		}
		inst.Strike = &strike
	}
	if e := get(6); e != "" {
		exp, err := time.Parse("2006-01-02", e)
		if err != nil {
			return types.Instrument{}, fmt.Errorf("parse expiry: %w", err)
		}
		inst.Expiry = &exp
	}
	if ot := get(7); ot != "" {
		optType := types.OptionType(ot)
		inst.OptionType = &optType
	}
	return inst, nil
}

func (m *Master) index(inst types.Instrument) {
	m.bySecurityID[inst.SecurityID] = inst

	if inst.Expiry != nil {
		if m.expiries[inst.Symbol] == nil {
			m.expiries[inst.Symbol] = make(map[time.Time]struct{})
		}
		m.expiries[inst.Symbol][*inst.Expiry] = struct{}{}
	}

	if inst.Strike != nil && inst.Expiry != nil && inst.OptionType != nil {
		ek := expiryKey{symbol: inst.Symbol, expiry: *inst.Expiry}
		strikeStr := inst.Strike.String()
		if m.strikes[ek] == nil {
			m.strikes[ek] = make(map[string]struct{})
		}
		if _, seen := m.strikes[ek][strikeStr]; !seen {
			m.strikes[ek][strikeStr] = struct{}{}
			m.strikeValues[ek] = append(m.strikeValues[ek], *inst.Strike)
		}

		ck := compositeKey{
			symbol:     inst.Symbol,
			expiry:     *inst.Expiry,
			strike:     strikeStr,
			optionType: *inst.OptionType,
		}
		m.byComposite[ck] = inst.SecurityID
	}
}

// SecurityID resolves the broker security id for an option contract.
// Unknown queries return (empty, false) per spec.md §4.2 contract.
func (m *Master) SecurityID(symbol string, expiry time.Time, strike decimal.Decimal, optionType types.OptionType) (string, bool) {
	id, ok := m.byComposite[compositeKey{symbol: symbol, expiry: expiry, strike: strike.String(), optionType: optionType}]
	return id, ok
}

// ExpiryDates returns all known expiries for a symbol.
func (m *Master) ExpiryDates(symbol string) []time.Time {
	set := m.expiries[symbol]
	out := make([]time.Time, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// Strikes returns all known strikes for a symbol/expiry pair.
func (m *Master) Strikes(symbol string, expiry time.Time) []decimal.Decimal {
	return m.strikeValues[expiryKey{symbol: symbol, expiry: expiry}]
}

// ExchangeSegment resolves the exchange segment for a security id.
func (m *Master) ExchangeSegment(securityID string) (types.Segment, bool) {
	inst, ok := m.bySecurityID[securityID]
	if !ok {
		return "", false
	}
	return inst.Segment, true
}

// LotSize resolves the tradeable lot size for a security id.
func (m *Master) LotSize(securityID string) (int64, bool) {
	inst, ok := m.bySecurityID[securityID]
	if !ok {
		return 0, false
	}
	return inst.LotSize, true
}

// Get returns the full instrument record for a security id.
func (m *Master) Get(securityID string) (types.Instrument, bool) {
	inst, ok := m.bySecurityID[securityID]
	return inst, ok
}
