package httpserver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
)

// ParseFilter 将查询参数转换为扫描过滤条件，列表参数以逗号分隔
func ParseFilter(q url.Values) (service.OpportunityFilter, error) {
	f := service.OpportunityFilter{
		Symbols:            splitList(q, "symbols"),
		RequiredExchange:   strings.ToLower(strings.TrimSpace(q.Get("required_exchange"))),
		IncludeExchanges:   splitList(q, "include_exchanges"),
		ExcludeExchanges:   splitList(q, "exclude_exchanges"),
		WhitelistExchanges: splitList(q, "whitelist_exchanges"),
		OIImbalance:        model.OIImbalance(q.Get("oi_imbalance")),
		SortBy:             q.Get("sort_by"),
	}

	var err error
	floats := []struct {
		key string
		dst *float64
	}{
		{"min_divergence", &f.MinDivergence},
		{"min_profit_percent", &f.MinProfitPercent},
		{"interval_hours", &f.IntervalHours},
	}
	for _, fl := range floats {
		if v := q.Get(fl.key); v != "" {
			if *fl.dst, err = strconv.ParseFloat(v, 64); err != nil {
				return f, fmt.Errorf("%w: %s=%q", model.ErrInvalidFilter, fl.key, v)
			}
		}
	}

	optionals := []struct {
		key string
		dst **float64
	}{
		{"min_volume_24h", &f.MinVolume24h},
		{"max_volume_24h", &f.MaxVolume24h},
		{"min_open_interest", &f.MinOpenInterest},
		{"max_open_interest", &f.MaxOpenInterest},
		{"min_oi_ratio", &f.MinOIRatio},
		{"max_oi_ratio", &f.MaxOIRatio},
		{"max_spread_bps", &f.MaxSpreadBps},
	}
	for _, o := range optionals {
		if v := q.Get(o.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, fmt.Errorf("%w: %s=%q", model.ErrInvalidFilter, o.key, v)
			}
			*o.dst = &n
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"use_taker", &f.UseTaker},
		{"ascending", &f.Ascending},
	}
	for _, b := range bools {
		if v := q.Get(b.key); v != "" {
			if *b.dst, err = strconv.ParseBool(v); err != nil {
				return f, fmt.Errorf("%w: %s=%q", model.ErrInvalidFilter, b.key, v)
			}
		}
	}

	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("%w: limit=%q", model.ErrInvalidFilter, v)
		}
	}
	return f, nil
}

func splitList(q url.Values, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
