package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Registry 标的/交易所 名称与 id 的双向映射。
// 存储是唯一事实来源，cache 仅为读穿缓存，可为 nil。
type Registry struct {
	symbols   port.SymbolRepository
	exchanges port.ExchangeRepository
	cache     port.IDCache
}

// NewRegistry 创建注册表
func NewRegistry(symbols port.SymbolRepository, exchanges port.ExchangeRepository, cache port.IDCache) *Registry {
	return &Registry{symbols: symbols, exchanges: exchanges, cache: cache}
}

// NormalizeSymbol 标的名统一大写
func NormalizeSymbol(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// NormalizeExchange 交易所名统一小写
func NormalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ResolveSymbol 查找标的，首次出现时创建（可能写库）
func (r *Registry) ResolveSymbol(ctx context.Context, name string) (model.Symbol, error) {
	name = NormalizeSymbol(name)
	if name == "" {
		return model.Symbol{}, fmt.Errorf("%w: empty symbol", model.ErrValidation)
	}
	if id, ok := r.cachedID("sym:" + name); ok {
		return model.Symbol{ID: id, Name: name}, nil
	}
	sym, err := r.symbols.GetOrCreateSymbol(ctx, name)
	if err != nil {
		return model.Symbol{}, fmt.Errorf("resolve symbol %s: %w", name, err)
	}
	r.rememberSymbol(sym)
	return sym, nil
}

// LookupSymbol 只读查找标的
func (r *Registry) LookupSymbol(ctx context.Context, name string) (model.Symbol, bool, error) {
	name = NormalizeSymbol(name)
	if name == "" {
		return model.Symbol{}, false, nil
	}
	if id, ok := r.cachedID("sym:" + name); ok {
		return model.Symbol{ID: id, Name: name}, true, nil
	}
	sym, ok, err := r.symbols.FindSymbol(ctx, name)
	if err != nil || !ok {
		return model.Symbol{}, false, err
	}
	r.rememberSymbol(sym)
	return sym, true, nil
}

// SymbolName 按 id 取标的名
func (r *Registry) SymbolName(ctx context.Context, id int64) (string, bool, error) {
	key := "symid:" + strconv.FormatInt(id, 10)
	if name, ok := r.cachedName(key); ok {
		return name, true, nil
	}
	sym, ok, err := r.symbols.GetSymbolByID(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	r.rememberSymbol(sym)
	return sym.Name, true, nil
}

// LookupExchangeID 只读查找交易所 id；交易所在启动时写入，不会在这里创建
func (r *Registry) LookupExchangeID(ctx context.Context, name string) (int64, bool, error) {
	name = NormalizeExchange(name)
	if name == "" {
		return 0, false, nil
	}
	if id, ok := r.cachedID("ex:" + name); ok {
		return id, true, nil
	}
	ex, ok, err := r.exchanges.FindExchange(ctx, name)
	if err != nil || !ok {
		return 0, false, err
	}
	r.rememberExchange(ex)
	return ex.ID, true, nil
}

// ExchangeName 按 id 取交易所名
func (r *Registry) ExchangeName(ctx context.Context, id int64) (string, bool, error) {
	key := "exid:" + strconv.FormatInt(id, 10)
	if name, ok := r.cachedName(key); ok {
		return name, true, nil
	}
	ex, ok, err := r.exchanges.GetExchangeByID(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	r.rememberExchange(ex)
	return ex.Name, true, nil
}

func (r *Registry) cachedID(key string) (int64, bool) {
	if r.cache == nil {
		return 0, false
	}
	return r.cache.GetID(key)
}

func (r *Registry) cachedName(key string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	return r.cache.GetName(key)
}

func (r *Registry) rememberSymbol(sym model.Symbol) {
	if r.cache == nil {
		return
	}
	r.cache.SetID("sym:"+sym.Name, sym.ID)
	r.cache.SetName("symid:"+strconv.FormatInt(sym.ID, 10), sym.Name)
}

func (r *Registry) rememberExchange(ex model.Exchange) {
	if r.cache == nil {
		return
	}
	r.cache.SetID("ex:"+ex.Name, ex.ID)
	r.cache.SetName("exid:"+strconv.FormatInt(ex.ID, 10), ex.Name)
}
