package container

import (
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/application/usecase/monitor"
	domainsvc "fundarb/internal/domain/service"
)

// Options 应用层服务的可选依赖与参数
type Options struct {
	Cache    port.IDCache
	Logs     port.CollectionLogSink // 为 nil 时写入 Store
	Mirror   port.LatestRateMirror
	Locker   port.RunLocker
	Adapters []port.ExchangeAdapter

	Fees         *domainsvc.FeeModel
	OI           domainsvc.OIThresholds
	Limits       domainsvc.RiskLimits
	Rebalance    domainsvc.RebalancePolicy
	Collector    service.CollectorConfig
	DefaultLimit int

	SyncInterval      time.Duration
	IncludeMarketData bool
}

// Container 按需构建应用服务
type Container struct {
	store port.Store
	opts  Options

	registry        *service.Registry
	positionService *service.PositionService
	finder          *service.OpportunityFinder
	collector       *service.Collector
}

func New(store port.Store, opts Options) *Container {
	if opts.Fees == nil {
		opts.Fees = domainsvc.NewFeeModel(domainsvc.FeeModelConfig{})
	}
	if opts.OI == (domainsvc.OIThresholds{}) {
		opts.OI = domainsvc.DefaultOIThresholds()
	}
	if opts.Logs == nil {
		opts.Logs = store
	}
	return &Container{store: store, opts: opts}
}

func (c *Container) Store() port.Store {
	return c.store
}

func (c *Container) FeeModel() *domainsvc.FeeModel {
	return c.opts.Fees
}

func (c *Container) Registry() *service.Registry {
	if c.registry == nil {
		c.registry = service.NewRegistry(c.store, c.store, c.opts.Cache)
	}
	return c.registry
}

func (c *Container) PositionService() *service.PositionService {
	if c.positionService == nil {
		c.positionService = service.NewPositionService(c.store, c.Registry(), c.opts.Limits)
	}
	return c.positionService
}

func (c *Container) OpportunityFinder() *service.OpportunityFinder {
	if c.finder == nil {
		c.finder = service.NewOpportunityFinder(c.store, c.opts.Fees, c.opts.OI, c.opts.DefaultLimit)
	}
	return c.finder
}

func (c *Container) Collector() *service.Collector {
	if c.collector == nil {
		c.collector = service.NewCollector(service.CollectorDeps{
			Adapters:  c.opts.Adapters,
			Registry:  c.Registry(),
			Exchanges: c.store,
			Snapshots: c.store,
			Logs:      c.opts.Logs,
			Mirror:    c.opts.Mirror,
			Locker:    c.opts.Locker,
		}, c.opts.Collector)
	}
	return c.collector
}

func (c *Container) FundingRateSyncer() *service.FundingRateSyncer {
	return service.NewFundingRateSyncer(c.Collector(), c.opts.SyncInterval, c.opts.IncludeMarketData)
}

// PositionMonitor 每次调用返回新的监控循环，sink 可为 nil
func (c *Container) PositionMonitor(interval time.Duration, printEveryMin int, sink port.LiveSink, color bool) *monitor.Service {
	return monitor.NewService(monitor.ServiceDeps{
		Positions:     c.PositionService(),
		Quotes:        c.store,
		Policy:        c.opts.Rebalance,
		Interval:      interval,
		PrintEveryMin: printEveryMin,
		Sink:          sink,
		Color:         color,
	})
}

func (c *Container) Close() error {
	return c.store.Close()
}
