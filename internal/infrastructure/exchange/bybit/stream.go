package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// 每个 subscribe 请求最多 10 个 topic
const topicsPerRequest = 10

// streamTick 流式 ticker 的最新值，delta 消息只覆盖出现的字段
type streamTick struct {
	volume *float64
	oi     *float64
	bid    *float64
	ask    *float64
	at     time.Time
}

// Stream 公共 ticker 流，缓存行情供 FetchMarketData 覆盖 REST 结果
type Stream struct {
	wsURL  string
	conv   exchange.SymbolConverter
	topics []string

	mu    sync.RWMutex
	ticks map[string]streamTick
	now   func() time.Time
}

func NewStream(wsURL string, conv exchange.SymbolConverter, coins []string) *Stream {
	topics := make([]string, 0, len(coins))
	for _, c := range coins {
		if sym := conv.Coin2Symbol(c); sym != "" {
			topics = append(topics, "tickers."+sym)
		}
	}
	return &Stream{
		wsURL:  strings.TrimSpace(wsURL),
		conv:   conv,
		topics: topics,
		ticks:  map[string]streamTick{},
		now:    time.Now,
	}
}

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type tickerMsg struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol            string `json:"symbol"`
		Turnover24h       string `json:"turnover24h"`
		OpenInterestValue string `json:"openInterestValue"`
		Bid1Price         string `json:"bid1Price"`
		Ask1Price         string `json:"ask1Price"`
	} `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
}

// Run 断线自动重连，直到 ctx 取消
func (s *Stream) Run(ctx context.Context) {
	backoff := exchange.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second}
	for ctx.Err() == nil {
		err := s.session(ctx, &backoff)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("exchange", Name).Err(err).Msg("ticker stream disconnected, reconnecting")
		if !exchange.Sleep(ctx, backoff.Next()) {
			return
		}
	}
}

func (s *Stream) session(ctx context.Context, backoff *exchange.Backoff) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := exchange.DialWS(cctx, s.wsURL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for i := 0; i < len(s.topics); i += topicsPerRequest {
		end := i + topicsPerRequest
		if end > len(s.topics) {
			end = len(s.topics)
		}
		if err := conn.WriteJSON(subReq{Op: "subscribe", Args: s.topics[i:end]}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	backoff.Reset()
	log.Info().Str("exchange", Name).Int("topics", len(s.topics)).Msg("ticker stream subscribed")

	return exchange.ReadWithPing(ctx, conn, s.handle)
}

func (s *Stream) handle(b []byte) {
	var msg tickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("exchange", Name).Err(err).Msg("ticker stream unmarshal failed")
		return
	}
	if msg.Success != nil {
		if !*msg.Success {
			log.Error().Str("exchange", Name).Str("ret_msg", msg.RetMsg).Msg("ticker subscribe rejected")
		}
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}
	c := s.conv.Symbol2Coin(msg.Data.Symbol)
	if c == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ticks[c]
	if v := exchange.ParseOptional(msg.Data.Turnover24h); v != nil {
		t.volume = v
	}
	if v := exchange.ParseOptional(msg.Data.OpenInterestValue); v != nil {
		t.oi = v
	}
	if v := exchange.ParseOptional(msg.Data.Bid1Price); v != nil {
		t.bid = v
	}
	if v := exchange.ParseOptional(msg.Data.Ask1Price); v != nil {
		t.ask = v
	}
	t.at = s.now()
	s.ticks[c] = t
}

// Overlay 用 since 之后更新过的流数据覆盖 out 中对应标的
func (s *Stream) Overlay(out map[string]port.MarketStats, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c, t := range s.ticks {
		if t.at.Before(since) {
			continue
		}
		st := out[c]
		if t.volume != nil {
			st.Volume24h = t.volume
		}
		if t.oi != nil {
			st.OpenInterestUSD = t.oi
		}
		if t.bid != nil {
			st.BestBid = t.bid
		}
		if t.ask != nil {
			st.BestAsk = t.ask
		}
		out[c] = st
		n++
	}
	return n
}
