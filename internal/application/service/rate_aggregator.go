package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
)

// RateAggregator 行情聚合器
// 并发拉取各交易所的资金费率与现货盘口，合并成一份市场视图；
// 单个交易所失败只影响它自己的数据，认证失败的交易所被永久禁用
type RateAggregator struct {
	mu         sync.RWMutex
	connectors []port.ExchangeConnector
	disabled   map[string]bool
	view       model.MarketView

	symbols []string
	timeout time.Duration
	maxAge  time.Duration
	history *domainsvc.PriceHistory
}

// NewRateAggregator 创建行情聚合器
func NewRateAggregator(symbols []string, timeout, maxAge time.Duration, history *domainsvc.PriceHistory) *RateAggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &RateAggregator{
		disabled: make(map[string]bool),
		view: model.MarketView{
			Rates:  make(map[string]model.RateSnapshot),
			Prices: make(map[string]model.PriceSnapshot),
		},
		symbols: symbols,
		timeout: timeout,
		maxAge:  maxAge,
		history: history,
	}
}

// Register 注册一个交易所适配器
func (a *RateAggregator) Register(conn port.ExchangeConnector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectors = append(a.connectors, conn)
}

// venueResult 单交易所一轮拉取的结果
type venueResult struct {
	venue  string
	rates  []model.RateSnapshot
	prices []model.PriceSnapshot
	err    error
}

// Collect 执行一轮全量拉取并合并视图。
// 仍在保鲜期内的旧数据会保留，避免单所抖动把整个视图打空；
// 所有启用的交易所都失败时返回错误。
func (a *RateAggregator) Collect(ctx context.Context, now time.Time) (model.MarketView, error) {
	conns := a.activeConnectors()
	if len(conns) == 0 {
		return a.View(), fmt.Errorf("no active connectors: %w", model.ErrTransientData)
	}

	results := make([]venueResult, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			results[i] = a.fetchVenue(gctx, conn)
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	merged := a.carryFresh(now)
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			if errors.Is(res.err, model.ErrAuth) {
				a.disabled[res.venue] = true
				log.Error().Str("exchange", res.venue).Err(res.err).Msg("authentication failed, connector disabled")
			} else {
				log.Warn().Str("exchange", res.venue).Err(res.err).Msg("venue fetch failed, keeping stale view")
			}
			continue
		}
		for _, snap := range res.rates {
			if snap.Age(now) > a.maxAge {
				continue
			}
			merged.Rates[snap.Key()] = snap
		}
		for _, snap := range res.prices {
			if snap.Age(now) > a.maxAge {
				continue
			}
			merged.Prices[snap.Key()] = snap
			if a.history != nil {
				a.history.Push(snap.Symbol, snap.Mid())
			}
		}
	}
	merged.CapturedAt = now.UnixMilli()
	a.view = merged

	if failed == len(conns) {
		return copyView(merged), fmt.Errorf("all %d venues failed: %w", failed, model.ErrTransientData)
	}
	log.Debug().
		Int("venues", len(conns)-failed).
		Int("rates", len(merged.Rates)).
		Int("prices", len(merged.Prices)).
		Msg("market view refreshed")
	return copyView(merged), nil
}

// fetchVenue 拉取单个交易所，整体受超时约束
func (a *RateAggregator) fetchVenue(ctx context.Context, conn port.ExchangeConnector) venueResult {
	res := venueResult{venue: conn.Name()}

	vctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rates, err := conn.FundingRates(vctx, a.symbols)
	if err != nil {
		res.err = fmt.Errorf("funding rates: %w", err)
		return res
	}
	res.rates = rates

	prices, err := conn.Prices(vctx, a.symbols)
	if err != nil {
		res.err = fmt.Errorf("prices: %w", err)
		return res
	}
	res.prices = prices
	return res
}

// carryFresh 把上一轮视图中仍在保鲜期内的条目带入新视图
func (a *RateAggregator) carryFresh(now time.Time) model.MarketView {
	merged := model.MarketView{
		Rates:  make(map[string]model.RateSnapshot, len(a.view.Rates)),
		Prices: make(map[string]model.PriceSnapshot, len(a.view.Prices)),
	}
	for k, snap := range a.view.Rates {
		if snap.Age(now) <= a.maxAge {
			merged.Rates[k] = snap
		}
	}
	for k, snap := range a.view.Prices {
		if snap.Age(now) <= a.maxAge {
			merged.Prices[k] = snap
		}
	}
	return merged
}

// activeConnectors 返回未被禁用的适配器
func (a *RateAggregator) activeConnectors() []port.ExchangeConnector {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]port.ExchangeConnector, 0, len(a.connectors))
	for _, conn := range a.connectors {
		if !a.disabled[conn.Name()] {
			out = append(out, conn)
		}
	}
	return out
}

// Disabled 返回交易所是否被禁用
func (a *RateAggregator) Disabled(venue string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.disabled[venue]
}

// ApplyTick 将实时盘口推送合入视图，供 WebSocket 价格源使用
func (a *RateAggregator) ApplyTick(tick port.Tick) {
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return
	}
	snap := model.PriceSnapshot{
		Exchange:   tick.Exchange,
		Symbol:     tick.Symbol,
		Bid:        tick.Bid,
		Ask:        tick.Ask,
		CapturedAt: tick.Ts,
	}
	a.mu.Lock()
	a.view.Prices[snap.Key()] = snap
	a.mu.Unlock()

	if a.history != nil {
		a.history.Push(snap.Symbol, snap.Mid())
	}
}

// View 返回最新市场视图的副本
func (a *RateAggregator) View() model.MarketView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyView(a.view)
}

func copyView(v model.MarketView) model.MarketView {
	out := model.MarketView{
		Rates:      make(map[string]model.RateSnapshot, len(v.Rates)),
		Prices:     make(map[string]model.PriceSnapshot, len(v.Prices)),
		CapturedAt: v.CapturedAt,
	}
	for k, s := range v.Rates {
		out.Rates[k] = s
	}
	for k, s := range v.Prices {
		out.Prices[k] = s
	}
	return out
}
