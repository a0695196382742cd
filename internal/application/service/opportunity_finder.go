package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"

	"github.com/rs/zerolog/log"
)

// OpportunityFinder 读取最新快照，对同标的跨交易所的每对报价双向评估并排序
type OpportunityFinder struct {
	quotes       port.SnapshotRepository
	fees         *domainsvc.FeeModel
	oi           domainsvc.OIThresholds
	defaultLimit int
	now          func() time.Time
}

// NewOpportunityFinder 创建机会扫描器
func NewOpportunityFinder(quotes port.SnapshotRepository, fees *domainsvc.FeeModel, oi domainsvc.OIThresholds, defaultLimit int) *OpportunityFinder {
	return &OpportunityFinder{
		quotes:       quotes,
		fees:         fees,
		oi:           oi,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// FindOpportunities 扫描并返回排序后的机会列表
func (f *OpportunityFinder) FindOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.ArbitrageOpportunity, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	quotes, err := f.quotes.LatestQuotes(ctx, port.QuoteQuery{
		Symbols:          normalizeNames(filter.Symbols, NormalizeSymbol),
		Exchanges:        normalizeNames(filter.WhitelistExchanges, NormalizeExchange),
		ExcludeExchanges: normalizeNames(filter.ExcludeExchanges, NormalizeExchange),
	})
	if err != nil {
		return nil, fmt.Errorf("load latest quotes: %w", err)
	}

	opps := f.Score(quotes, filter)

	ScanDurationSeconds.Observe(time.Since(start).Seconds())
	OpportunitiesFoundTotal.Add(float64(len(opps)))
	log.Debug().
		Int("quotes", len(quotes)).
		Int("returned", len(opps)).
		Dur("elapsed", time.Since(start)).
		Msg("opportunity scan")
	return opps, nil
}

// FindBest 最优的一个机会
func (f *OpportunityFinder) FindBest(ctx context.Context, filter OpportunityFilter) (model.ArbitrageOpportunity, bool, error) {
	filter.Limit = 1
	opps, err := f.FindOpportunities(ctx, filter)
	if err != nil || len(opps) == 0 {
		return model.ArbitrageOpportunity{}, false, err
	}
	return opps[0], true, nil
}

// FindForSymbol 单个标的的机会
func (f *OpportunityFinder) FindForSymbol(ctx context.Context, symbol string, filter OpportunityFilter) ([]model.ArbitrageOpportunity, error) {
	filter.Symbols = []string{NormalizeSymbol(symbol)}
	return f.FindOpportunities(ctx, filter)
}

// Score 对一组报价评估、过滤、排序、截断。纯计算，不访问存储。
func (f *OpportunityFinder) Score(quotes []model.Quote, filter OpportunityFilter) []model.ArbitrageOpportunity {
	at := f.now().UTC()
	sel := newExchangeSelector(filter)

	var out []model.ArbitrageOpportunity
	for _, group := range groupBySymbol(quotes) {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if opp, ok := f.evaluate(group[i], group[j], filter, sel, at); ok {
					out = append(out, opp)
				}
				if opp, ok := f.evaluate(group[j], group[i], filter, sel, at); ok {
					out = append(out, opp)
				}
			}
		}
	}

	sortOpportunities(out, filter.sortField(), filter.Ascending)
	if n := filter.limit(f.defaultLimit); len(out) > n {
		out = out[:n]
	}
	return out
}

func (f *OpportunityFinder) evaluate(long, short model.Quote, filter OpportunityFilter, sel exchangeSelector, at time.Time) (model.ArbitrageOpportunity, bool) {
	if long.Exchange == short.Exchange {
		return model.ArbitrageOpportunity{}, false
	}
	divergence := domainsvc.Divergence(long.Rate, short.Rate)
	if divergence < filter.MinDivergence {
		return reject("min_divergence")
	}
	if !sel.allows(long.Exchange, short.Exchange) {
		return reject("exchange")
	}

	costs := f.fees.CostOfInterval(long.Exchange, short.Exchange, long.Rate, short.Rate, !filter.UseTaker, pairInterval(long, short, filter.IntervalHours))
	if !costs.IsProfitable {
		return reject("unprofitable")
	}
	if costs.NetRatePerPeriod < filter.MinProfitPercent {
		return reject("min_profit")
	}

	opp := model.ArbitrageOpportunity{
		Symbol:             long.Symbol,
		LongExchange:       long.Exchange,
		ShortExchange:      short.Exchange,
		LongRate:           long.Rate,
		ShortRate:          short.Rate,
		Divergence:         divergence,
		EstimatedFees:      costs.TotalFee,
		NetProfitPerPeriod: costs.NetRatePerPeriod,
		AnnualizedAPY:      costs.AnnualizedAPY,
		Costs:              costs,
		Volume:             domainsvc.VolumeMetrics(long.Volume24h, short.Volume24h),
		OpenInterest:       domainsvc.OpenInterestMetrics(long.OpenInterestUSD, short.OpenInterestUSD, f.oi),
		Spread:             domainsvc.SpreadMetrics(long.SpreadBps, short.SpreadBps),
		DiscoveredAt:       at,
	}
	if reason := marketDataReject(opp, filter); reason != "" {
		return reject(reason)
	}
	return opp, true
}

func reject(reason string) (model.ArbitrageOpportunity, bool) {
	CandidatesRejectedTotal.WithLabelValues(reason).Inc()
	return model.ArbitrageOpportunity{}, false
}

// marketDataReject 行情过滤，未知值放行
func marketDataReject(opp model.ArbitrageOpportunity, f OpportunityFilter) string {
	if v := opp.Volume.Min; v != nil {
		if f.MinVolume24h != nil && *v < *f.MinVolume24h {
			return "min_volume"
		}
		if f.MaxVolume24h != nil && *v > *f.MaxVolume24h {
			return "max_volume"
		}
	}
	if v := opp.OpenInterest.Min; v != nil {
		if f.MinOpenInterest != nil && *v < *f.MinOpenInterest {
			return "min_open_interest"
		}
		if f.MaxOpenInterest != nil && *v > *f.MaxOpenInterest {
			return "max_open_interest"
		}
	}
	if v := opp.OpenInterest.Ratio; v != nil {
		if f.MinOIRatio != nil && *v < *f.MinOIRatio {
			return "min_oi_ratio"
		}
		if f.MaxOIRatio != nil && *v > *f.MaxOIRatio {
			return "max_oi_ratio"
		}
	}
	if f.OIImbalance != "" && opp.OpenInterest.Imbalance != "" && opp.OpenInterest.Imbalance != f.OIImbalance {
		return "oi_imbalance"
	}
	if v := opp.Spread.AvgBps; v != nil && f.MaxSpreadBps != nil && *v > *f.MaxSpreadBps {
		return "max_spread"
	}
	return ""
}

// pairInterval 两腿周期一致时使用该周期，否则使用默认周期
func pairInterval(long, short model.Quote, override float64) float64 {
	if override > 0 {
		return override
	}
	if long.IntervalHours != nil && short.IntervalHours != nil && *long.IntervalHours == *short.IntervalHours {
		return *long.IntervalHours
	}
	return 0
}

type exchangeSelector struct {
	required  string
	include   map[string]bool
	exclude   map[string]bool
	whitelist map[string]bool
}

func newExchangeSelector(f OpportunityFilter) exchangeSelector {
	return exchangeSelector{
		required:  NormalizeExchange(f.RequiredExchange),
		include:   nameSet(f.IncludeExchanges),
		exclude:   nameSet(f.ExcludeExchanges),
		whitelist: nameSet(f.WhitelistExchanges),
	}
}

func (s exchangeSelector) allows(long, short string) bool {
	long, short = NormalizeExchange(long), NormalizeExchange(short)
	if s.required != "" && long != s.required && short != s.required {
		return false
	}
	if s.include != nil && !s.include[long] && !s.include[short] {
		return false
	}
	if s.exclude[long] || s.exclude[short] {
		return false
	}
	if s.whitelist != nil && (!s.whitelist[long] || !s.whitelist[short]) {
		return false
	}
	return true
}

// groupBySymbol 保持输入顺序分组
func groupBySymbol(quotes []model.Quote) [][]model.Quote {
	index := make(map[string]int)
	var groups [][]model.Quote
	for _, q := range quotes {
		i, ok := index[q.Symbol]
		if !ok {
			i = len(groups)
			index[q.Symbol] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], q)
	}
	return groups
}

func sortKey(o model.ArbitrageOpportunity, field string) *float64 {
	switch field {
	case SortAPY:
		return &o.AnnualizedAPY
	case SortDivergence:
		return &o.Divergence
	case SortVolume:
		return o.Volume.Min
	case SortOpenInterest:
		return o.OpenInterest.Min
	case SortOIRatio:
		return o.OpenInterest.Ratio
	case SortSpread:
		return o.Spread.AvgBps
	}
	return &o.NetProfitPerPeriod
}

// sortOpportunities 稳定排序，缺失值无论升降序都排在末尾
func sortOpportunities(opps []model.ArbitrageOpportunity, field string, ascending bool) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := sortKey(opps[i], field), sortKey(opps[j], field)
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case ascending:
			return *a < *b
		default:
			return *a > *b
		}
	})
}
