package model

import "time"

// AdapterResult 单个适配器一次采集的结果（成功或失败均记录）
type AdapterResult struct {
	Exchange         string `json:"exchange"`
	Success          bool   `json:"success"`
	RatesFetched     int    `json:"rates_fetched"`
	RatesStored      int    `json:"rates_stored"`
	MarketDataStored int    `json:"market_data_stored"`
	IntervalsStored  int    `json:"intervals_stored"`
	LatencyMs        int64  `json:"latency_ms"`
	Error            string `json:"error,omitempty"`
}

// CollectionSummary 一次 CollectAll 的汇总
type CollectionSummary struct {
	TotalAdapters    int             `json:"total_adapters"`
	Successful       int             `json:"successful"`
	Failed           int             `json:"failed"`
	TotalRatesStored int             `json:"total_rates_stored"`
	Results          []AdapterResult `json:"per_adapter_result"` // 按交易所名排序
	StartedAt        time.Time       `json:"started_at"`
	DurationMs       int64           `json:"duration_ms"`
}

// Result 按交易所名查找结果
func (s CollectionSummary) Result(exchange string) (AdapterResult, bool) {
	for _, r := range s.Results {
		if r.Exchange == exchange {
			return r, true
		}
	}
	return AdapterResult{}, false
}

// CollectionLog 每次适配器调用的结构化采集日志
type CollectionLog struct {
	Exchange         string    `json:"exchange"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Success          bool      `json:"success"`
	RatesFetched     int       `json:"rates_fetched"`
	RatesStored      int       `json:"rates_stored"`
	MarketDataStored int       `json:"market_data_stored"`
	LatencyMs        int64     `json:"latency_ms"`
	Error            string    `json:"error,omitempty"`
}
