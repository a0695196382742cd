package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Exchange 单个交易所配置
type Exchange struct {
	Enabled    bool     `toml:"enabled"`
	RestURL    string   `toml:"rest_url"`
	WsURL      string   `toml:"ws_url"`
	QuoteAsset string   `toml:"quote_asset"`
	MakerFee   *float64 `toml:"maker_fee"`
	TakerFee   *float64 `toml:"taker_fee"`
	RPS        float64  `toml:"rps"`
	Burst      int      `toml:"burst"`
	Stream     bool     `toml:"stream"` // 启用 websocket ticker 流
}

type Config struct {
	App struct {
		LogLevel           string `toml:"log_level"`
		LogFile            string `toml:"log_file"`
		PrintEveryMin      int    `toml:"print_every_min"`
		MonitorIntervalSec int    `toml:"monitor_interval_sec"`
		Color              bool   `toml:"color"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"` // 为空表示交易所返回的全部标的
	} `toml:"symbols"`

	Collection struct {
		IntervalSec        int  `toml:"interval_sec"`
		AdapterTimeoutSec  int  `toml:"adapter_timeout_sec"`
		MaxConcurrent      int  `toml:"max_concurrent"`
		IncludeMarketData  bool `toml:"include_market_data"`
		MarketDataStaleSec int  `toml:"market_data_stale_sec"`
		LockTTLSec         int  `toml:"lock_ttl_sec"`
	} `toml:"collection"`

	Funding struct {
		DefaultIntervalHours float64 `toml:"default_interval_hours"`
	} `toml:"funding"`

	Fees struct {
		DefaultMaker float64 `toml:"default_maker"`
		DefaultTaker float64 `toml:"default_taker"`
	} `toml:"fees"`

	Opportunity struct {
		LongHeavyRatio  float64 `toml:"long_heavy_ratio"`
		ShortHeavyRatio float64 `toml:"short_heavy_ratio"`
		DefaultLimit    int     `toml:"default_limit"`
		UseTakerFees    bool    `toml:"use_taker_fees"`
	} `toml:"opportunity"`

	Rebalance struct {
		MinDivergenceRatio float64 `toml:"min_divergence_ratio"`
	} `toml:"rebalance"`

	Risk struct {
		MaxPositionSizeUSD    float64 `toml:"max_position_size_usd"`
		MaxTotalExposureUSD   float64 `toml:"max_total_exposure_usd"`
		MaxPositionsPerSymbol int     `toml:"max_positions_per_symbol"`
		MaxTotalPositions     int     `toml:"max_total_positions"`
	} `toml:"risk"`

	Storage struct {
		Driver       string `toml:"driver"` // sqlite | postgres | memory
		SQLitePath   string `toml:"sqlite_path"`
		PostgresDSN  string `toml:"postgres_dsn"`
		MaxOpenConns int    `toml:"max_open_conns"`
		MaxIdleConns int    `toml:"max_idle_conns"`
	} `toml:"storage"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		TTLSec     int    `toml:"ttl_sec"`
		LogStream  string `toml:"log_stream"`
		LogChannel string `toml:"log_channel"`
		Lock       bool   `toml:"lock"` // 跨进程采集锁
	} `toml:"redis"`

	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`

	Exchanges map[string]Exchange `toml:"exchanges"`
}

// knownExchanges 内置交易所的默认端点与手续费
var knownExchanges = map[string]Exchange{
	"binance": {
		Enabled:    true,
		RestURL:    "https://fapi.binance.com",
		QuoteAsset: "USDT",
		MakerFee:   fee(0.0002),
		TakerFee:   fee(0.0005),
		RPS:        10,
		Burst:      5,
	},
	"bybit": {
		Enabled:    true,
		RestURL:    "https://api.bybit.com",
		WsURL:      "wss://stream.bybit.com/v5/public/linear",
		QuoteAsset: "USDT",
		MakerFee:   fee(0.0002),
		TakerFee:   fee(0.00055),
		RPS:        10,
		Burst:      5,
	},
}

func fee(v float64) *float64 { return &v }

// Defaults 内置默认配置
func Defaults() Config {
	var cfg Config
	cfg.Exchanges = map[string]Exchange{}
	for name, ex := range knownExchanges {
		cfg.Exchanges[name] = ex
	}
	applyDefaults(&cfg)
	return cfg
}

// Load 读取 TOML，叠加 .env 与 FUNDARB_* 环境变量后校验。path 为空时只用默认值。
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.App.MonitorIntervalSec <= 0 {
		cfg.App.MonitorIntervalSec = 60
	}
	if cfg.Collection.IntervalSec <= 0 {
		cfg.Collection.IntervalSec = 300
	}
	if cfg.Collection.AdapterTimeoutSec <= 0 {
		cfg.Collection.AdapterTimeoutSec = 30
	}
	if cfg.Collection.MaxConcurrent <= 0 {
		cfg.Collection.MaxConcurrent = 8
	}
	if cfg.Collection.MarketDataStaleSec <= 0 {
		cfg.Collection.MarketDataStaleSec = 900
	}
	if cfg.Collection.LockTTLSec <= 0 {
		cfg.Collection.LockTTLSec = 120
	}
	if cfg.Funding.DefaultIntervalHours <= 0 {
		cfg.Funding.DefaultIntervalHours = 8
	}
	if cfg.Fees.DefaultMaker <= 0 && cfg.Fees.DefaultTaker <= 0 {
		cfg.Fees.DefaultMaker = 0.0005
		cfg.Fees.DefaultTaker = 0.0007
	}
	if cfg.Opportunity.LongHeavyRatio <= 0 {
		cfg.Opportunity.LongHeavyRatio = 1.2
	}
	if cfg.Opportunity.ShortHeavyRatio <= 0 {
		cfg.Opportunity.ShortHeavyRatio = 0.8
	}
	if cfg.Opportunity.DefaultLimit <= 0 {
		cfg.Opportunity.DefaultLimit = 20
	}
	if cfg.Rebalance.MinDivergenceRatio <= 0 {
		cfg.Rebalance.MinDivergenceRatio = 0.5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/fundarb.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "fundarb"
	}
	if cfg.Redis.TTLSec <= 0 {
		cfg.Redis.TTLSec = 3600
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9108"
	}

	cfg.Symbols.List = NormalizeSymbols(cfg.Symbols.List)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	exchanges := make(map[string]Exchange, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		name = strings.ToLower(strings.TrimSpace(name))
		if known, ok := knownExchanges[name]; ok {
			ex = mergeExchange(ex, known)
		}
		if ex.QuoteAsset == "" {
			ex.QuoteAsset = "USDT"
		}
		ex.QuoteAsset = strings.ToUpper(ex.QuoteAsset)
		if ex.RPS <= 0 {
			ex.RPS = 10
		}
		if ex.Burst <= 0 {
			ex.Burst = 5
		}
		exchanges[name] = ex
	}
	cfg.Exchanges = exchanges
}

// mergeExchange 用内置值补全未配置的字段
func mergeExchange(ex, known Exchange) Exchange {
	if ex.RestURL == "" {
		ex.RestURL = known.RestURL
	}
	if ex.WsURL == "" {
		ex.WsURL = known.WsURL
	}
	if ex.MakerFee == nil {
		ex.MakerFee = known.MakerFee
	}
	if ex.TakerFee == nil {
		ex.TakerFee = known.TakerFee
	}
	return ex
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return errors.New("storage.sqlite_path is empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is empty but driver is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}

	if c.Opportunity.ShortHeavyRatio >= c.Opportunity.LongHeavyRatio {
		return errors.New("opportunity.short_heavy_ratio must be below long_heavy_ratio")
	}
	if c.Opportunity.DefaultLimit > 100 {
		return errors.New("opportunity.default_limit must be <= 100")
	}
	if c.Rebalance.MinDivergenceRatio >= 1 {
		return errors.New("rebalance.min_divergence_ratio must be < 1")
	}
	if c.Risk.MaxPositionSizeUSD < 0 || c.Risk.MaxTotalExposureUSD < 0 ||
		c.Risk.MaxPositionsPerSymbol < 0 || c.Risk.MaxTotalPositions < 0 {
		return errors.New("risk limits must be >= 0")
	}
	if err := validFee("fees.default_maker", c.Fees.DefaultMaker); err != nil {
		return err
	}
	if err := validFee("fees.default_taker", c.Fees.DefaultTaker); err != nil {
		return err
	}

	for _, name := range c.ExchangeNames() {
		ex := c.Exchanges[name]
		if !ex.Enabled {
			continue
		}
		if strings.TrimSpace(ex.RestURL) == "" {
			return fmt.Errorf("exchanges.%s.rest_url empty but enabled", name)
		}
		if ex.Stream && strings.TrimSpace(ex.WsURL) == "" {
			return fmt.Errorf("exchanges.%s.ws_url empty but stream enabled", name)
		}
		if ex.MakerFee != nil {
			if err := validFee("exchanges."+name+".maker_fee", *ex.MakerFee); err != nil {
				return err
			}
		}
		if ex.TakerFee != nil {
			if err := validFee("exchanges."+name+".taker_fee", *ex.TakerFee); err != nil {
				return err
			}
		}
	}
	return nil
}

func validFee(key string, v float64) error {
	if v < 0 || v > 0.01 {
		return fmt.Errorf("%s=%v out of range [0, 0.01]", key, v)
	}
	return nil
}

// ExchangeNames 全部已配置交易所，按名称排序
func (c *Config) ExchangeNames() []string {
	names := make([]string, 0, len(c.Exchanges))
	for name := range c.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledExchanges 启用的交易所，按名称排序
func (c *Config) EnabledExchanges() []string {
	var out []string
	for _, name := range c.ExchangeNames() {
		if c.Exchanges[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

func (c *Config) CollectionInterval() time.Duration {
	return time.Duration(c.Collection.IntervalSec) * time.Second
}

func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Collection.AdapterTimeoutSec) * time.Second
}

func (c *Config) MarketDataMaxAge() time.Duration {
	return time.Duration(c.Collection.MarketDataStaleSec) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Collection.LockTTLSec) * time.Second
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.App.MonitorIntervalSec) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}

// NormalizeSymbols 转大写并去重，保持原有顺序
func NormalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// envPresent 环境变量是否已设置且非空
func envPresent(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
