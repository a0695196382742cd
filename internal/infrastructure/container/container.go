package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	appcontainer "fundarb/internal/application/container"
	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
	"fundarb/internal/infrastructure/cache"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/factory"
	"fundarb/internal/infrastructure/storage"
	"fundarb/internal/infrastructure/storage/composite"
	pgrepo "fundarb/internal/infrastructure/storage/postgres"
	redisrepo "fundarb/internal/infrastructure/storage/redis"
	sqliterepo "fundarb/internal/infrastructure/storage/sqlite"

	// 交易所适配器通过 init() 注册到 factory
	_ "fundarb/internal/infrastructure/exchange/binance"
	_ "fundarb/internal/infrastructure/exchange/bybit"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Options 基础设施初始化选项
type Options struct {
	// WithAdapters 为启用的交易所创建适配器（采集类命令需要）
	WithAdapters bool
}

// Container 包含所有基础设施依赖及应用层容器
type Container struct {
	cfg         *config.Config
	store       port.Store
	redisRepo   *redisrepo.Repo
	idCache     *cache.RistrettoIDCache
	adapters    []port.ExchangeAdapter
	app         *appcontainer.Container
	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化存储、缓存、redis 与适配器，失败时释放已初始化的资源
func New(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
		skip bool
	}{
		{name: "storage", fn: c.initStorage},
		{name: "redis", fn: c.initRedis, skip: !cfg.Redis.Enabled},
		{name: "cache", fn: c.initCache},
		{name: "exchange seed", fn: c.seedExchanges},
		{name: "adapters", fn: c.initAdapters, skip: !opts.WithAdapters},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		if err := s.fn(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%s init failed: %w", s.name, err)
		}
	}

	c.app = appcontainer.New(c.store, c.appOptions())
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	switch c.cfg.Storage.Driver {
	case "postgres":
		repo, err := pgrepo.New(ctx, c.cfg.Storage.PostgresDSN, c.cfg.Storage.MaxOpenConns, c.cfg.Storage.MaxIdleConns)
		if err != nil {
			return err
		}
		c.store = repo
		log.Info().Msg("postgres initialized")
	case "memory":
		c.store = storage.NewInMemoryStore()
		log.Warn().Msg("using in-memory store, data is not persisted")
	default:
		repo, err := sqliterepo.New(c.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		c.store = repo
		log.Info().Str("path", c.cfg.Storage.SQLitePath).Msg("sqlite initialized")
	}

	store := c.store
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Str("driver", c.cfg.Storage.Driver).Msg("closing store")
		return store.Close()
	})
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisRepo = redisrepo.New(rdb, c.cfg.Redis.Prefix, c.cfg.RedisTTL(), c.cfg.Redis.LogStream, c.cfg.Redis.LogChannel)
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", c.cfg.Redis.Addr).
		Int("db", c.cfg.Redis.DB).
		Bool("lock", c.cfg.Redis.Lock).
		Msg("redis initialized")
	return nil
}

func (c *Container) initCache(context.Context) error {
	idc, err := cache.New(cache.Config{})
	if err != nil {
		return err
	}
	c.idCache = idc
	c.closerChain = append(c.closerChain, func() error {
		idc.Close()
		return nil
	})
	return nil
}

// seedExchanges 将配置中的交易所及手续费写入 exchanges 表
func (c *Container) seedExchanges(ctx context.Context) error {
	fees := c.FeeModel()
	for _, name := range c.cfg.ExchangeNames() {
		ex := c.cfg.Exchanges[name]
		if _, err := c.store.UpsertExchange(ctx, name, fees.FeeStructureFor(name), ex.Enabled); err != nil {
			return fmt.Errorf("upsert exchange %s: %w", name, err)
		}
	}
	return nil
}

func (c *Container) initAdapters(context.Context) error {
	adapters, err := factory.BuildAdapters(c.cfg)
	if err != nil {
		return err
	}
	c.adapters = adapters
	c.closerChain = append(c.closerChain, func() error {
		for _, a := range adapters {
			_ = a.Close()
		}
		return nil
	})
	return nil
}

// FeeModel 由 [fees] 与 [exchanges.*] 的手续费构建
func (c *Container) FeeModel() *domainsvc.FeeModel {
	fees := make(map[string]model.FeeStructure, len(c.cfg.Exchanges))
	for name, ex := range c.cfg.Exchanges {
		if ex.MakerFee == nil && ex.TakerFee == nil {
			continue
		}
		fs := model.FeeStructure{MakerFee: c.cfg.Fees.DefaultMaker, TakerFee: c.cfg.Fees.DefaultTaker}
		if ex.MakerFee != nil {
			fs.MakerFee = *ex.MakerFee
		}
		if ex.TakerFee != nil {
			fs.TakerFee = *ex.TakerFee
		}
		fees[name] = fs
	}
	return domainsvc.NewFeeModel(domainsvc.FeeModelConfig{
		Fees:                 fees,
		Fallback:             &model.FeeStructure{MakerFee: c.cfg.Fees.DefaultMaker, TakerFee: c.cfg.Fees.DefaultTaker},
		DefaultIntervalHours: c.cfg.Funding.DefaultIntervalHours,
	})
}

func (c *Container) appOptions() appcontainer.Options {
	opts := appcontainer.Options{
		Cache:    c.idCache,
		Adapters: c.adapters,
		Fees:     c.FeeModel(),
		OI: domainsvc.OIThresholds{
			LongHeavy:  c.cfg.Opportunity.LongHeavyRatio,
			ShortHeavy: c.cfg.Opportunity.ShortHeavyRatio,
		},
		Limits: domainsvc.RiskLimits{
			MaxPositionSizeUSD:    decimal.NewFromFloat(c.cfg.Risk.MaxPositionSizeUSD),
			MaxTotalExposureUSD:   decimal.NewFromFloat(c.cfg.Risk.MaxTotalExposureUSD),
			MaxPositionsPerSymbol: c.cfg.Risk.MaxPositionsPerSymbol,
			MaxTotalPositions:     c.cfg.Risk.MaxTotalPositions,
		},
		Rebalance: domainsvc.RebalancePolicy{MinDivergenceRatio: c.cfg.Rebalance.MinDivergenceRatio},
		Collector: service.CollectorConfig{
			AdapterTimeout:   c.cfg.AdapterTimeout(),
			MaxConcurrent:    c.cfg.Collection.MaxConcurrent,
			MarketDataMaxAge: c.cfg.MarketDataMaxAge(),
			LockTTL:          c.cfg.LockTTL(),
		},
		DefaultLimit:      c.cfg.Opportunity.DefaultLimit,
		SyncInterval:      c.cfg.CollectionInterval(),
		IncludeMarketData: c.cfg.Collection.IncludeMarketData,
	}
	if c.redisRepo != nil {
		opts.Logs = composite.NewLogSink(c.store, c.redisRepo)
		opts.Mirror = c.redisRepo
		if c.cfg.Redis.Lock {
			opts.Locker = c.redisRepo
		}
	}
	return opts
}

func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) App() *appcontainer.Container { return c.app }

func (c *Container) Store() port.Store { return c.store }

func (c *Container) Adapters() []port.ExchangeAdapter { return c.adapters }

// RedisMirror 未启用 redis 时为 nil
func (c *Container) RedisMirror() *redisrepo.Repo { return c.redisRepo }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
