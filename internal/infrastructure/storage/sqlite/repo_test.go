package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	"github.com/shopspring/decimal"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "fundarb.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedExchange(t *testing.T, repo *Repo, name string) model.Exchange {
	t.Helper()
	ex, err := repo.UpsertExchange(context.Background(), name, model.FeeStructure{MakerFee: 0.0002, TakerFee: 0.0005}, true)
	if err != nil {
		t.Fatalf("UpsertExchange(%s) failed: %v", name, err)
	}
	return ex
}

func TestSQLiteRepoGetOrCreateSymbol(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, err := repo.GetOrCreateSymbol(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetOrCreateSymbol failed: %v", err)
	}
	second, err := repo.GetOrCreateSymbol(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetOrCreateSymbol failed: %v", err)
	}
	if first.ID == 0 || first.ID != second.ID {
		t.Errorf("expected stable id, got %d and %d", first.ID, second.ID)
	}

	if _, ok, err := repo.FindSymbol(ctx, "ETH"); err != nil || ok {
		t.Errorf("expected ETH to be missing, got ok=%v err=%v", ok, err)
	}
	byID, ok, err := repo.GetSymbolByID(ctx, first.ID)
	if err != nil || !ok || byID.Name != "BTC" {
		t.Errorf("GetSymbolByID = %+v ok=%v err=%v", byID, ok, err)
	}
}

func TestSQLiteRepoExchangeHealth(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ex := seedExchange(t, repo, "binance")

	at := time.UnixMilli(1700000000000).UTC()
	for i := 0; i < 2; i++ {
		if err := repo.RecordFetchFailure(ctx, ex.ID, at); err != nil {
			t.Fatalf("RecordFetchFailure failed: %v", err)
		}
	}
	got, _, _ := repo.GetExchangeByID(ctx, ex.ID)
	if got.ConsecutiveErrors != 2 || got.LastError == nil || !got.LastError.Equal(at) {
		t.Errorf("unexpected health after failures: %+v", got)
	}

	if err := repo.RecordFetchSuccess(ctx, ex.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("RecordFetchSuccess failed: %v", err)
	}
	got, _, _ = repo.FindExchange(ctx, "binance")
	if got.ConsecutiveErrors != 0 || got.LastSuccessfulFetch == nil {
		t.Errorf("expected error counter reset, got %+v", got)
	}

	// re-seeding keeps health counters
	_ = repo.RecordFetchFailure(ctx, ex.ID, at)
	seedExchange(t, repo, "binance")
	got, _, _ = repo.FindExchange(ctx, "binance")
	if got.ConsecutiveErrors != 1 {
		t.Errorf("expected upsert to keep counters, got %d", got.ConsecutiveErrors)
	}
}

func TestSQLiteRepoLatestQuotes(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	bn := seedExchange(t, repo, "binance")
	bb := seedExchange(t, repo, "bybit")
	off, err := repo.UpsertExchange(ctx, "okx", model.FeeStructure{}, false)
	if err != nil {
		t.Fatalf("UpsertExchange failed: %v", err)
	}
	btc, _ := repo.GetOrCreateSymbol(ctx, "BTC")
	eth, _ := repo.GetOrCreateSymbol(ctx, "ETH")

	t0 := time.UnixMilli(1700000000000).UTC()
	insert := func(ex model.Exchange, sym model.Symbol, rate float64, at time.Time) {
		t.Helper()
		if err := repo.InsertFundingRate(ctx, model.FundingRateSnapshot{ExchangeID: ex.ID, SymbolID: sym.ID, Rate: rate, CapturedAt: at}); err != nil {
			t.Fatalf("InsertFundingRate failed: %v", err)
		}
	}
	insert(bn, btc, 0.0001, t0)
	insert(bn, btc, 0.0002, t0.Add(time.Minute))
	insert(bn, btc, 0.0009, t0.Add(-time.Minute)) // older sample does not replace latest
	insert(bb, btc, 0.0005, t0)
	insert(bb, eth, 0.0003, t0)
	insert(off, btc, 0.01, t0)

	if err := repo.SetFundingInterval(ctx, bb.ID, btc.ID, 4); err != nil {
		t.Fatalf("SetFundingInterval failed: %v", err)
	}
	if err := repo.UpsertMarketData(ctx, model.MarketDataSnapshot{
		ExchangeID: bb.ID, SymbolID: btc.ID, Volume24h: model.Float(1e6), SpreadBps: model.Float(2), UpdatedAt: t0,
	}); err != nil {
		t.Fatalf("UpsertMarketData failed: %v", err)
	}

	quotes, err := repo.LatestQuotes(ctx, port.QuoteQuery{})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("expected 3 quotes from active exchanges, got %d", len(quotes))
	}
	if quotes[0].Exchange != "binance" || quotes[0].Symbol != "BTC" || quotes[0].Rate != 0.0002 {
		t.Errorf("unexpected first quote: %+v", quotes[0])
	}
	if quotes[0].Volume24h != nil || quotes[0].IntervalHours != nil {
		t.Errorf("expected unknown market data for binance BTC, got %+v", quotes[0])
	}
	if q := quotes[1]; q.Exchange != "bybit" || q.FundingInterval() != 4 || q.Volume24h == nil || *q.Volume24h != 1e6 || q.OpenInterestUSD != nil {
		t.Errorf("unexpected bybit BTC quote: %+v", q)
	}

	quotes, err = repo.LatestQuotes(ctx, port.QuoteQuery{Symbols: []string{"BTC"}, ExcludeExchanges: []string{"binance"}})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Exchange != "bybit" {
		t.Errorf("unexpected filtered quotes: %+v", quotes)
	}

	n, err := repo.DeleteStaleMarketData(ctx, t0.Add(time.Second))
	if err != nil || n != 1 {
		t.Errorf("DeleteStaleMarketData = %d, %v", n, err)
	}
}

func TestSQLiteRepoInsertCollectionLog(t *testing.T) {
	repo := newRepo(t)
	now := time.Now()
	err := repo.InsertCollectionLog(context.Background(), model.CollectionLog{
		Exchange: "binance", StartedAt: now, FinishedAt: now, Success: false, Error: "timeout after 30s",
	})
	if err != nil {
		t.Fatalf("InsertCollectionLog failed: %v", err)
	}

	var count int
	if err := repo.GetDB().QueryRow(`SELECT COUNT(*) FROM collection_logs WHERE exchange = 'binance' AND success = 0`).Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 log row, got %d", count)
	}
}

func openPosition(t *testing.T, repo *Repo, id string) model.Position {
	t.Helper()
	ctx := context.Background()
	long := seedExchange(t, repo, "binance")
	short := seedExchange(t, repo, "bybit")
	sym, _ := repo.GetOrCreateSymbol(ctx, "BTC")

	p := model.Position{
		ID:                   id,
		SymbolID:             sym.ID,
		LongExchangeID:       long.ID,
		ShortExchangeID:      short.ID,
		SizeUSD:              decimal.NewFromInt(10000),
		EntryLongRate:        0.0001,
		EntryShortRate:       0.0005,
		EntryDivergence:      0.0004,
		OpenedAt:             time.UnixMilli(1700000000000).UTC(),
		Status:               model.PositionOpen,
		CumulativeFundingUSD: decimal.Zero,
		Metadata:             model.Metadata{"strategy": model.String("manual")},
	}
	if err := repo.CreatePosition(ctx, p); err != nil {
		t.Fatalf("CreatePosition failed: %v", err)
	}
	return p
}

func TestSQLiteRepoPositionRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	openPosition(t, repo, "pos-1")

	got, ok, err := repo.GetPosition(ctx, "pos-1")
	if err != nil || !ok {
		t.Fatalf("GetPosition: ok=%v err=%v", ok, err)
	}
	if got.Symbol != "BTC" || got.LongExchange != "binance" || got.ShortExchange != "bybit" {
		t.Errorf("unexpected names: %+v", got)
	}
	if !got.SizeUSD.Equal(decimal.NewFromInt(10000)) || !got.CumulativeFundingUSD.IsZero() || got.FundingPaymentsCount != 0 {
		t.Errorf("unexpected amounts: size=%s funding=%s count=%d", got.SizeUSD, got.CumulativeFundingUSD, got.FundingPaymentsCount)
	}
	if s, ok := got.Metadata["strategy"].AsString(); !ok || s != "manual" {
		t.Errorf("metadata not restored: %+v", got.Metadata)
	}

	found, ok, err := repo.FindOpenPosition(ctx, got.SymbolID, got.LongExchangeID, got.ShortExchangeID)
	if err != nil || !ok || found.ID != "pos-1" {
		t.Errorf("FindOpenPosition = %v ok=%v err=%v", found.ID, ok, err)
	}
	if _, ok, _ := repo.FindOpenPosition(ctx, got.SymbolID, got.ShortExchangeID, got.LongExchangeID); ok {
		t.Errorf("expected reversed legs not to match")
	}

	if _, ok, err := repo.GetPosition(ctx, "missing"); err != nil || ok {
		t.Errorf("expected missing position, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteRepoFundingLedgerReconciles(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	openPosition(t, repo, "pos-1")

	paid := time.UnixMilli(1700000000000).UTC()
	for i, net := range []string{"4.00", "-1.25", "0.10"} {
		n := decimal.RequireFromString(net)
		_, err := repo.RecordFundingPayment(ctx, model.FundingPayment{
			PositionID:      "pos-1",
			PaidAt:          paid.Add(time.Duration(i) * 8 * time.Hour),
			LongLegPayment:  decimal.Zero,
			ShortLegPayment: n,
			NetPayment:      n,
		})
		if err != nil {
			t.Fatalf("RecordFundingPayment failed: %v", err)
		}
	}

	pays, err := repo.ListFundingPayments(ctx, "pos-1")
	if err != nil {
		t.Fatalf("ListFundingPayments failed: %v", err)
	}
	sum := decimal.Zero
	for _, p := range pays {
		sum = sum.Add(p.NetPayment)
	}
	got, _, _ := repo.GetPosition(ctx, "pos-1")
	if len(pays) != 3 || got.FundingPaymentsCount != 3 {
		t.Errorf("expected 3 payments, got %d / count %d", len(pays), got.FundingPaymentsCount)
	}
	if !got.CumulativeFundingUSD.Equal(sum) || !sum.Equal(decimal.RequireFromString("2.85")) {
		t.Errorf("ledger does not reconcile: cumulative=%s sum=%s", got.CumulativeFundingUSD, sum)
	}

	_, err = repo.RecordFundingPayment(ctx, model.FundingPayment{PositionID: "missing", PaidAt: paid})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepoCloseIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	openPosition(t, repo, "pos-1")

	if err := repo.SetRebalance(ctx, "pos-1", true, "divergence_decayed"); err != nil {
		t.Fatalf("SetRebalance failed: %v", err)
	}
	pending, _ := repo.ListPendingRebalance(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending position, got %d", len(pending))
	}

	_, _ = repo.RecordFundingPayment(ctx, model.FundingPayment{
		PositionID: "pos-1", PaidAt: time.Now(), ShortLegPayment: decimal.NewFromInt(5), NetPayment: decimal.NewFromInt(5),
	})

	at := time.UnixMilli(1700003600000).UTC()
	closed, err := repo.ClosePosition(ctx, "pos-1", "target_reached", nil, at)
	if err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}
	closed, err = repo.ClosePosition(ctx, "pos-1", "again", nil, at.Add(time.Hour))
	if err != nil || closed {
		t.Fatalf("second close should be a no-op: closed=%v err=%v", closed, err)
	}

	got, _, _ := repo.GetPosition(ctx, "pos-1")
	if got.Status != model.PositionClosed || got.ExitReason != "target_reached" || got.RebalancePending {
		t.Errorf("unexpected closed position: %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(at) {
		t.Errorf("closed_at = %v", got.ClosedAt)
	}
	if got.RealizedPnlUSD == nil || !got.RealizedPnlUSD.Equal(decimal.NewFromInt(5)) {
		t.Errorf("realized pnl should default to cumulative funding, got %v", got.RealizedPnlUSD)
	}

	_, err = repo.RecordFundingPayment(ctx, model.FundingPayment{PositionID: "pos-1", PaidAt: time.Now()})
	if !errors.Is(err, model.ErrPositionClosed) {
		t.Errorf("expected ErrPositionClosed, got %v", err)
	}
	if err := repo.SetRebalance(ctx, "pos-1", true, "x"); !errors.Is(err, model.ErrPositionClosed) {
		t.Errorf("expected ErrPositionClosed, got %v", err)
	}
	if _, err := repo.ClosePosition(ctx, "missing", "x", nil, at); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	reopen := got
	reopen.Status = model.PositionOpen
	if err := repo.UpdatePosition(ctx, reopen); !errors.Is(err, model.ErrPositionClosed) {
		t.Errorf("reopen: expected ErrPositionClosed, got %v", err)
	}
	if got, _, _ := repo.GetPosition(ctx, "pos-1"); got.Status != model.PositionClosed {
		t.Errorf("position reopened: %+v", got)
	}
	if err := repo.UpdatePosition(ctx, got); err != nil {
		t.Errorf("closed -> closed update failed: %v", err)
	}
}

func TestSQLiteRepoPortfolioSummary(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	p := openPosition(t, repo, "pos-1")

	second := p
	second.ID = "pos-2"
	second.SizeUSD = decimal.NewFromInt(2500)
	if err := repo.CreatePosition(ctx, second); err != nil {
		t.Fatalf("CreatePosition failed: %v", err)
	}
	_ = repo.SetRebalance(ctx, "pos-2", true, "divergence_flipped")

	third := p
	third.ID = "pos-3"
	_ = repo.CreatePosition(ctx, third)
	_, _ = repo.ClosePosition(ctx, "pos-3", "manual", nil, time.Now())

	sum, err := repo.PortfolioSummary(ctx)
	if err != nil {
		t.Fatalf("PortfolioSummary failed: %v", err)
	}
	if sum.TotalPositions != 2 || sum.PositionsPendingRebalance != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !sum.TotalExposureUSD.Equal(decimal.NewFromInt(12500)) {
		t.Errorf("exposure = %s", sum.TotalExposureUSD)
	}
	if n, _ := repo.CountOpenBySymbol(ctx, p.SymbolID); n != 2 {
		t.Errorf("CountOpenBySymbol = %d", n)
	}

	if err := repo.UpdatePositionMark(ctx, "pos-1", 0.0001, &model.LegRates{Long: 0.0002, Short: 0.0003}, time.Now()); err != nil {
		t.Fatalf("UpdatePositionMark failed: %v", err)
	}
	got, _, _ := repo.GetPosition(ctx, "pos-1")
	if got.CurrentDivergence == nil || *got.CurrentDivergence != 0.0001 || got.CurrentShortRate == nil || *got.CurrentShortRate != 0.0003 {
		t.Errorf("mark not stored: %+v", got)
	}
	if !got.CumulativeFundingUSD.IsZero() {
		t.Errorf("mark must not touch funding totals")
	}
}
