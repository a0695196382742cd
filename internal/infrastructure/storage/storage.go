package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
)

type pairKey struct {
	exchangeID int64
	symbolID   int64
}

type pairMeta struct {
	native   string
	interval *float64
}

// InMemoryStore 进程内 port.Store 实现，用于测试与 dry-run，重启即丢失
type InMemoryStore struct {
	mu sync.RWMutex

	symbols    []model.Symbol
	exchanges  []model.Exchange
	pairs      map[pairKey]pairMeta
	history    []model.FundingRateSnapshot
	latest     map[pairKey]model.FundingRateSnapshot
	marketData map[pairKey]model.MarketDataSnapshot
	positions  map[string]model.Position
	payments   []model.FundingPayment
	logs       []model.CollectionLog
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		pairs:      make(map[pairKey]pairMeta),
		latest:     make(map[pairKey]model.FundingRateSnapshot),
		marketData: make(map[pairKey]model.MarketDataSnapshot),
		positions:  make(map[string]model.Position),
	}
}

func (s *InMemoryStore) GetOrCreateSymbol(ctx context.Context, name string) (model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symbols {
		if sym.Name == name {
			return sym, nil
		}
	}
	sym := model.Symbol{ID: int64(len(s.symbols) + 1), Name: name}
	s.symbols = append(s.symbols, sym)
	return sym, nil
}

func (s *InMemoryStore) FindSymbol(ctx context.Context, name string) (model.Symbol, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sym := range s.symbols {
		if sym.Name == name {
			return sym, true, nil
		}
	}
	return model.Symbol{}, false, nil
}

func (s *InMemoryStore) GetSymbolByID(ctx context.Context, id int64) (model.Symbol, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || int(id) > len(s.symbols) {
		return model.Symbol{}, false, nil
	}
	return s.symbols[id-1], true, nil
}

func (s *InMemoryStore) UpsertExchange(ctx context.Context, name string, fees model.FeeStructure, active bool) (model.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range s.exchanges {
		if ex.Name == name {
			ex.MakerFee, ex.TakerFee, ex.IsActive = fees.MakerFee, fees.TakerFee, active
			s.exchanges[i] = ex
			return ex, nil
		}
	}
	ex := model.Exchange{ID: int64(len(s.exchanges) + 1), Name: name, MakerFee: fees.MakerFee, TakerFee: fees.TakerFee, IsActive: active}
	s.exchanges = append(s.exchanges, ex)
	return ex, nil
}

func (s *InMemoryStore) FindExchange(ctx context.Context, name string) (model.Exchange, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ex := range s.exchanges {
		if ex.Name == name {
			return ex, true, nil
		}
	}
	return model.Exchange{}, false, nil
}

func (s *InMemoryStore) GetExchangeByID(ctx context.Context, id int64) (model.Exchange, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || int(id) > len(s.exchanges) {
		return model.Exchange{}, false, nil
	}
	return s.exchanges[id-1], true, nil
}

func (s *InMemoryStore) ListExchanges(ctx context.Context, activeOnly bool) ([]model.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Exchange
	for _, ex := range s.exchanges {
		if activeOnly && !ex.IsActive {
			continue
		}
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) RecordFetchSuccess(ctx context.Context, exchangeID int64, at time.Time) error {
	return s.updateExchange(exchangeID, func(ex *model.Exchange) {
		ex.ConsecutiveErrors = 0
		ex.LastSuccessfulFetch = &at
	})
}

func (s *InMemoryStore) RecordFetchFailure(ctx context.Context, exchangeID int64, at time.Time) error {
	return s.updateExchange(exchangeID, func(ex *model.Exchange) {
		ex.ConsecutiveErrors++
		ex.LastError = &at
	})
}

func (s *InMemoryStore) updateExchange(id int64, fn func(*model.Exchange)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || int(id) > len(s.exchanges) {
		return fmt.Errorf("exchange %d: %w", id, model.ErrNotFound)
	}
	fn(&s.exchanges[id-1])
	return nil
}

func (s *InMemoryStore) UpsertExchangeSymbol(ctx context.Context, exchangeID, symbolID int64, nativeSymbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{exchangeID, symbolID}
	m := s.pairs[k]
	m.native = nativeSymbol
	s.pairs[k] = m
	return nil
}

func (s *InMemoryStore) SetFundingInterval(ctx context.Context, exchangeID, symbolID int64, hours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{exchangeID, symbolID}
	m := s.pairs[k]
	m.interval = model.Float(hours)
	s.pairs[k] = m
	return nil
}

func (s *InMemoryStore) InsertFundingRate(ctx context.Context, snap model.FundingRateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, snap)
	k := pairKey{snap.ExchangeID, snap.SymbolID}
	if cur, ok := s.latest[k]; !ok || !snap.CapturedAt.Before(cur.CapturedAt) {
		s.latest[k] = snap
	}
	return nil
}

// FundingRateHistory 某交易所-标的的时间序列（按写入顺序）
func (s *InMemoryStore) FundingRateHistory(exchangeID, symbolID int64) []model.FundingRateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FundingRateSnapshot
	for _, h := range s.history {
		if h.ExchangeID == exchangeID && h.SymbolID == symbolID {
			out = append(out, h)
		}
	}
	return out
}

func (s *InMemoryStore) UpsertMarketData(ctx context.Context, snap model.MarketDataSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketData[pairKey{snap.ExchangeID, snap.SymbolID}] = snap
	return nil
}

func (s *InMemoryStore) DeleteStaleMarketData(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, md := range s.marketData {
		if md.UpdatedAt.Before(before) {
			delete(s.marketData, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) LatestQuotes(ctx context.Context, q port.QuoteQuery) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols, include, exclude := stringSet(q.Symbols), stringSet(q.Exchanges), stringSet(q.ExcludeExchanges)
	var out []model.Quote
	for k, snap := range s.latest {
		ex := s.exchanges[k.exchangeID-1]
		sym := s.symbols[k.symbolID-1]
		if !ex.IsActive || exclude[ex.Name] {
			continue
		}
		if (symbols != nil && !symbols[sym.Name]) || (include != nil && !include[ex.Name]) {
			continue
		}
		qt := model.Quote{
			SymbolID:        sym.ID,
			Symbol:          sym.Name,
			ExchangeID:      ex.ID,
			Exchange:        ex.Name,
			Rate:            snap.Rate,
			NextFundingTime: snap.NextFundingTime,
			CapturedAt:      snap.CapturedAt,
			IntervalHours:   s.pairs[k].interval,
		}
		if md, ok := s.marketData[k]; ok {
			qt.Volume24h, qt.OpenInterestUSD, qt.SpreadBps = md.Volume24h, md.OpenInterestUSD, md.SpreadBps
		}
		out = append(out, qt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out, nil
}

func (s *InMemoryStore) CreatePosition(ctx context.Context, p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	s.positions[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPosition(ctx context.Context, id string) (model.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	return p, ok, nil
}

func (s *InMemoryStore) UpdatePosition(ctx context.Context, p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.positions[p.ID]
	if !ok {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrNotFound)
	}
	if !cur.IsOpen() && p.Status != model.PositionClosed {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrPositionClosed)
	}
	cur.CurrentLongRate, cur.CurrentShortRate, cur.CurrentDivergence = p.CurrentLongRate, p.CurrentShortRate, p.CurrentDivergence
	cur.LastCheckedAt = p.LastCheckedAt
	cur.Status = p.Status
	cur.RebalancePending, cur.RebalanceReason = p.RebalancePending, p.RebalanceReason
	cur.ExitReason, cur.ClosedAt, cur.RealizedPnlUSD = p.ExitReason, p.ClosedAt, p.RealizedPnlUSD
	cur.Metadata = p.Metadata
	s.positions[p.ID] = cur
	return nil
}

func (s *InMemoryStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.filterPositions(func(p model.Position) bool { return p.IsOpen() }), nil
}

func (s *InMemoryStore) ListPendingRebalance(ctx context.Context) ([]model.Position, error) {
	return s.filterPositions(func(p model.Position) bool { return p.IsOpen() && p.RebalancePending }), nil
}

func (s *InMemoryStore) FindOpenPosition(ctx context.Context, symbolID, longExchangeID, shortExchangeID int64) (model.Position, bool, error) {
	ps := s.filterPositions(func(p model.Position) bool {
		return p.IsOpen() && p.SymbolID == symbolID && p.LongExchangeID == longExchangeID && p.ShortExchangeID == shortExchangeID
	})
	if len(ps) == 0 {
		return model.Position{}, false, nil
	}
	return ps[0], true, nil
}

func (s *InMemoryStore) CountOpenBySymbol(ctx context.Context, symbolID int64) (int, error) {
	return len(s.filterPositions(func(p model.Position) bool { return p.IsOpen() && p.SymbolID == symbolID })), nil
}

func (s *InMemoryStore) filterPositions(keep func(model.Position) bool) []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *InMemoryStore) RecordFundingPayment(ctx context.Context, pay model.FundingPayment) (model.FundingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[pay.PositionID]
	if !ok {
		return model.FundingPayment{}, fmt.Errorf("position %s: %w", pay.PositionID, model.ErrNotFound)
	}
	if !p.IsOpen() {
		return model.FundingPayment{}, fmt.Errorf("position %s: %w", pay.PositionID, model.ErrPositionClosed)
	}
	pay.ID = int64(len(s.payments) + 1)
	s.payments = append(s.payments, pay)
	p.CumulativeFundingUSD = p.CumulativeFundingUSD.Add(pay.NetPayment)
	p.FundingPaymentsCount++
	s.positions[p.ID] = p
	return pay, nil
}

func (s *InMemoryStore) ListFundingPayments(ctx context.Context, positionID string) ([]model.FundingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FundingPayment
	for _, pay := range s.payments {
		if pay.PositionID == positionID {
			out = append(out, pay)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, nil
}

func (s *InMemoryStore) UpdatePositionMark(ctx context.Context, id string, divergence float64, rates *model.LegRates, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	p.CurrentDivergence = model.Float(divergence)
	if rates != nil {
		p.CurrentLongRate, p.CurrentShortRate = model.Float(rates.Long), model.Float(rates.Short)
	}
	p.LastCheckedAt = &at
	s.positions[id] = p
	return nil
}

func (s *InMemoryStore) SetRebalance(ctx context.Context, id string, pending bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	if !p.IsOpen() {
		return fmt.Errorf("position %s: %w", id, model.ErrPositionClosed)
	}
	p.RebalancePending, p.RebalanceReason = pending, reason
	s.positions[id] = p
	return nil
}

func (s *InMemoryStore) ClosePosition(ctx context.Context, id, exitReason string, realizedPnl *decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return false, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	if !p.IsOpen() {
		return false, nil
	}
	pnl := p.CumulativeFundingUSD
	if realizedPnl != nil {
		pnl = *realizedPnl
	}
	p.Status = model.PositionClosed
	p.ExitReason = exitReason
	p.ClosedAt = &at
	p.RealizedPnlUSD = &pnl
	p.RebalancePending = false
	s.positions[id] = p
	return true, nil
}

func (s *InMemoryStore) PortfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	sum := model.PortfolioSummary{TotalExposureUSD: decimal.Zero, TotalCumulativePnlUSD: decimal.Zero}
	for _, p := range s.filterPositions(func(p model.Position) bool { return p.IsOpen() }) {
		sum.TotalPositions++
		sum.TotalExposureUSD = sum.TotalExposureUSD.Add(p.SizeUSD)
		sum.TotalCumulativePnlUSD = sum.TotalCumulativePnlUSD.Add(p.CumulativeFundingUSD)
		if p.RebalancePending {
			sum.PositionsPendingRebalance++
		}
	}
	return sum, nil
}

func (s *InMemoryStore) InsertCollectionLog(ctx context.Context, rec model.CollectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, rec)
	return nil
}

// CollectionLogs 已写入的采集日志
func (s *InMemoryStore) CollectionLogs() []model.CollectionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CollectionLog(nil), s.logs...)
}

func (s *InMemoryStore) Close() error {
	return nil
}

func stringSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

var _ port.Store = (*InMemoryStore)(nil)
