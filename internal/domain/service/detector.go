package service

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"fundarb/internal/domain/model"
)

// StrategyParams 单个策略的检测参数
type StrategyParams struct {
	Enabled         bool
	MinThreshold    float64       // 策略主阈值：费率差 / 绝对费率 / 基差错位 / 环路利润率 / z 分数
	MaxPositionSize float64       // 单腿名义上限（美元）
	UpdateInterval  time.Duration // 检测周期
	TTL             time.Duration // 机会有效期
}

// DetectorConfig 机会检测参数
type DetectorConfig struct {
	Strategies map[model.StrategyKind]StrategyParams

	MinProfitThreshold float64       // 预期利润低于名义规模该比例时丢弃
	MaxSnapshotAge     time.Duration // 超龄快照不参与检测
	LiquidityScale     float64       // 名义规模与信号强度的比例系数（流动性代理）
	HoldingHours       float64       // 资金费套利预期持有时长

	MinCorrelation    float64    // 统计套利相关性下限
	MinHistorySamples int        // 统计套利最少样本数
	TriangularPaths   [][]string // 每条路径三个交易对，顺序为 基准买入/中间转换/回程卖出
	StatPairs         [][]string // 相关资产对
}

// DefaultDetectorConfig 缺省检测参数
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Strategies: map[model.StrategyKind]StrategyParams{
			model.StrategyCrossExchange: {Enabled: true, MinThreshold: 0.0005, MaxPositionSize: 2000, UpdateInterval: 30 * time.Second, TTL: 5 * time.Minute},
			model.StrategyExtremeRate:   {Enabled: true, MinThreshold: 0.0006, MaxPositionSize: 2000, UpdateInterval: 30 * time.Second, TTL: 5 * time.Minute},
			model.StrategyBasis:         {Enabled: true, MinThreshold: 0.001, MaxPositionSize: 2000, UpdateInterval: time.Minute, TTL: 8 * time.Hour},
			model.StrategyTriangular:    {Enabled: true, MinThreshold: 0.001, MaxPositionSize: 2000, UpdateInterval: 10 * time.Second, TTL: 2 * time.Minute},
			model.StrategyStatistical:   {Enabled: true, MinThreshold: 2.0, MaxPositionSize: 2000, UpdateInterval: 5 * time.Minute, TTL: 24 * time.Hour},
		},
		MinProfitThreshold: 0.0002,
		MaxSnapshotAge:     5 * time.Minute,
		LiquidityScale:     2_000_000,
		HoldingHours:       8.5,
		MinCorrelation:     0.8,
		MinHistorySamples:  100,
	}
}

// OpportunityDetector 机会检测器
// 消费市场视图，按策略产出排序去重后的套利机会
type OpportunityDetector struct {
	cfg     DetectorConfig
	stats   *ExecutionStats // 历史命中率来源，可为 nil
	history *PriceHistory   // 统计套利价格序列，可为 nil
}

// NewOpportunityDetector 创建机会检测器
func NewOpportunityDetector(cfg DetectorConfig, stats *ExecutionStats, history *PriceHistory) *OpportunityDetector {
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultDetectorConfig().Strategies
	}
	if cfg.MaxSnapshotAge <= 0 {
		cfg.MaxSnapshotAge = 5 * time.Minute
	}
	if cfg.LiquidityScale <= 0 {
		cfg.LiquidityScale = 2_000_000
	}
	if cfg.HoldingHours <= 0 {
		cfg.HoldingHours = 8.5
	}
	return &OpportunityDetector{cfg: cfg, stats: stats, history: history}
}

// Detect 对一份市场视图运行全部启用策略，返回排序去重后的机会
// 同一视图重复检测产出同一批机会（含确定性 ID），不产生重复条目
func (d *OpportunityDetector) Detect(view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	var raw []*model.ArbitrageOpportunity
	for _, kind := range model.AllStrategyKinds() {
		raw = append(raw, d.detectKind(kind, view, now)...)
	}
	return d.finalize(raw)
}

// DetectKind 只运行一个策略，供按策略周期调度的检测循环使用
func (d *OpportunityDetector) DetectKind(kind model.StrategyKind, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	return d.finalize(d.detectKind(kind, view, now))
}

// Params 某策略的检测参数
func (d *OpportunityDetector) Params(kind model.StrategyKind) StrategyParams {
	return d.cfg.Strategies[kind]
}

// HoldingHours 资金费套利的预期持有时长（小时）
func (d *OpportunityDetector) HoldingHours() float64 {
	return d.cfg.HoldingHours
}

func (d *OpportunityDetector) detectKind(kind model.StrategyKind, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	params, ok := d.cfg.Strategies[kind]
	if !ok || !params.Enabled {
		return nil
	}
	switch kind {
	case model.StrategyCrossExchange:
		return d.detectCrossExchange(params, view, now)
	case model.StrategyExtremeRate:
		return d.detectExtremeRate(params, view, now)
	case model.StrategyBasis:
		return d.detectBasis(params, view, now)
	case model.StrategyTriangular:
		return d.detectTriangular(params, view, now)
	case model.StrategyStatistical:
		return d.detectStatistical(params, view, now)
	}
	return nil
}

// detectCrossExchange 跨所资金费率套利：同一符号在费率最高所做空、最低所做多
func (d *OpportunityDetector) detectCrossExchange(params StrategyParams, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	var out []*model.ArbitrageOpportunity

	for symbol, snaps := range view.RatesBySymbol() {
		if len(snaps) < 2 {
			continue
		}
		high, low := snaps[0], snaps[0]
		for _, s := range snaps[1:] {
			if s.FundingRate > high.FundingRate {
				high = s
			}
			if s.FundingRate < low.FundingRate {
				low = s
			}
		}
		diff := high.FundingRate - low.FundingRate
		if diff <= params.MinThreshold {
			continue
		}

		notional := d.sizeFor(params, model.StrategyCrossExchange, symbol, diff)
		legs := []model.Leg{
			{Exchange: high.Exchange, Symbol: symbol, Market: model.MarketPerpetual, Side: model.SideShort, Notional: notional},
			{Exchange: low.Exchange, Symbol: symbol, Market: model.MarketPerpetual, Side: model.SideLong, Notional: notional},
		}
		ts := maxInt64(high.CapturedAt, low.CapturedAt)
		age := maxDuration(high.Age(now), low.Age(now))

		opp := d.build(model.StrategyCrossExchange, symbol, legs, diff, diff*notional, ts, age, d.markPrices(view, symbol), now, params.TTL)
		if opp != nil {
			opp.SettleAt = earliestSettlement(high.NextSettlement, low.NextSettlement)
			out = append(out, opp)
		}
	}
	return out
}

// detectExtremeRate 单所极端费率：费率绝对值超限时在同所用现货对冲永续
func (d *OpportunityDetector) detectExtremeRate(params StrategyParams, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	var out []*model.ArbitrageOpportunity

	for _, snap := range view.Rates {
		rate := snap.FundingRate
		if math.Abs(rate) <= params.MinThreshold {
			continue
		}

		notional := d.sizeFor(params, model.StrategyExtremeRate, snap.Symbol, math.Abs(rate))
		perpSide, spotSide := model.SideShort, model.SideLong
		if rate < 0 {
			// 负费率时做多永续收费率，做空现货对冲
			perpSide, spotSide = model.SideLong, model.SideShort
		}
		legs := []model.Leg{
			{Exchange: snap.Exchange, Symbol: snap.Symbol, Market: model.MarketPerpetual, Side: perpSide, Notional: notional},
			{Exchange: snap.Exchange, Symbol: snap.Symbol, Market: model.MarketSpot, Side: spotSide, Notional: notional},
		}

		opp := d.build(model.StrategyExtremeRate, snap.Symbol, legs, math.Abs(rate), math.Abs(rate)*notional, snap.CapturedAt, snap.Age(now), d.markPrices(view, snap.Symbol), now, params.TTL)
		if opp != nil {
			opp.SettleAt = snap.NextSettlement
			out = append(out, opp)
		}
	}
	return out
}

// detectBasis 期现基差：基差偏离资金费率隐含的理论值时双腿对冲
func (d *OpportunityDetector) detectBasis(params StrategyParams, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	var out []*model.ArbitrageOpportunity

	for key, rate := range view.Rates {
		spot, ok := view.Prices[key]
		if !ok || rate.MarkPrice <= 0 || spot.Mid() <= 0 {
			continue
		}

		basis := (rate.MarkPrice - spot.Mid()) / spot.Mid()
		theoretical := rate.FundingRate * 3
		misalign := math.Abs(basis - theoretical)
		if misalign <= params.MinThreshold {
			continue
		}

		notional := d.sizeFor(params, model.StrategyBasis, rate.Symbol, misalign)
		perpSide, spotSide := model.SideShort, model.SideLong
		if basis < theoretical {
			// 永续相对现货偏低，做多永续做空现货
			perpSide, spotSide = model.SideLong, model.SideShort
		}
		legs := []model.Leg{
			{Exchange: rate.Exchange, Symbol: rate.Symbol, Market: model.MarketPerpetual, Side: perpSide, Notional: notional},
			{Exchange: spot.Exchange, Symbol: spot.Symbol, Market: model.MarketSpot, Side: spotSide, Notional: notional},
		}
		ts := maxInt64(rate.CapturedAt, spot.CapturedAt)
		age := maxDuration(rate.Age(now), spot.Age(now))

		opp := d.build(model.StrategyBasis, rate.Symbol, legs, misalign, misalign*notional, ts, age, d.markPrices(view, rate.Symbol), now, params.TTL)
		if opp != nil {
			out = append(out, opp)
		}
	}
	return out
}

// detectTriangular 三角套利：USDT → 基准买入 → 中间转换 → 回程卖出
// 环路复合汇率超过 1 加费后阈值时成立
func (d *OpportunityDetector) detectTriangular(params StrategyParams, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	var out []*model.ArbitrageOpportunity
	prices := view.PricesBySymbol()

	for _, path := range d.cfg.TriangularPaths {
		if len(path) != 3 {
			continue
		}
		// 找到同时有三个交易对报价的交易所
		for _, first := range prices[path[0]] {
			second, ok := findVenuePrice(prices[path[1]], first.Exchange)
			if !ok {
				continue
			}
			third, ok := findVenuePrice(prices[path[2]], first.Exchange)
			if !ok {
				continue
			}
			if first.Ask <= 0 || second.Ask <= 0 || third.Bid <= 0 {
				continue
			}

			final := third.Bid / (first.Ask * second.Ask)
			profitRate := final - 1
			if profitRate <= params.MinThreshold {
				continue
			}

			notional := d.sizeFor(params, model.StrategyTriangular, path[0], profitRate)
			legs := []model.Leg{
				{Exchange: first.Exchange, Symbol: path[0], Market: model.MarketSpot, Side: model.SideLong, Notional: notional},
				{Exchange: first.Exchange, Symbol: path[1], Market: model.MarketSpot, Side: model.SideLong, Notional: notional},
				{Exchange: first.Exchange, Symbol: path[2], Market: model.MarketSpot, Side: model.SideShort, Notional: notional},
			}
			ts := maxInt64(first.CapturedAt, maxInt64(second.CapturedAt, third.CapturedAt))
			age := maxDuration(first.Age(now), maxDuration(second.Age(now), third.Age(now)))

			opp := d.build(model.StrategyTriangular, path[0], legs, profitRate, profitRate*notional, ts, age, nil, now, params.TTL)
			if opp != nil {
				out = append(out, opp)
			}
		}
	}
	return out
}

// detectStatistical 统计套利：高相关资产对的价格比偏离历史均值超过 z 阈值时做均值回归
func (d *OpportunityDetector) detectStatistical(params StrategyParams, view *model.MarketView, now time.Time) []*model.ArbitrageOpportunity {
	if d.history == nil {
		return nil
	}
	var out []*model.ArbitrageOpportunity

	for _, pair := range d.cfg.StatPairs {
		if len(pair) != 2 {
			continue
		}
		a, b := d.history.Series(pair[0]), d.history.Series(pair[1])
		if len(a) < d.cfg.MinHistorySamples || len(b) < d.cfg.MinHistorySamples {
			continue
		}
		corr := Pearson(a, b)
		if corr < d.cfg.MinCorrelation {
			continue
		}

		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		a, b = a[len(a)-n:], b[len(b)-n:]
		ratios := make([]float64, n)
		for i := 0; i < n; i++ {
			if b[i] == 0 {
				ratios[i] = 0
				continue
			}
			ratios[i] = a[i] / b[i]
		}
		z := ZScore(ratios[n-1], ratios)
		if math.Abs(z) <= params.MinThreshold {
			continue
		}

		notional := d.sizeFor(params, model.StrategyStatistical, pair[0], math.Abs(z)*0.001)
		sideA, sideB := model.SideShort, model.SideLong
		if z < 0 {
			// 比价偏低：做多 A 做空 B 等待回归
			sideA, sideB = model.SideLong, model.SideShort
		}
		venueA, venueB := latestVenue(view, pair[0]), latestVenue(view, pair[1])
		if venueA == "" || venueB == "" {
			continue
		}
		legs := []model.Leg{
			{Exchange: venueA, Symbol: pair[0], Market: model.MarketPerpetual, Side: sideA, Notional: notional},
			{Exchange: venueB, Symbol: pair[1], Market: model.MarketPerpetual, Side: sideB, Notional: notional},
		}

		opp := d.build(model.StrategyStatistical, pair[0], legs, math.Abs(z)*0.001, math.Abs(z)*10, view.CapturedAt, 0, nil, now, params.TTL)
		if opp == nil {
			continue
		}
		// 统计信号的信心度受相关性上限约束
		if opp.Confidence > corr {
			opp.Confidence = corr
		}
		out = append(out, opp)
	}
	return out
}

// build 组装机会并套用利润闸门，未达标时返回 nil
func (d *OpportunityDetector) build(kind model.StrategyKind, symbol string, legs []model.Leg, diff, profit float64, ts int64, age time.Duration, marks []float64, now time.Time, ttl time.Duration) *model.ArbitrageOpportunity {
	notional := 0.0
	for _, leg := range legs {
		if leg.Side == model.SideLong {
			notional += leg.Notional
		}
	}
	if notional <= 0 {
		notional = legs[0].Notional
	}
	if profit < d.cfg.MinProfitThreshold*notional {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	conf := d.confidence(kind, symbol, age, marks)
	vol := 0.0
	if d.history != nil {
		vol = AnnualizedVolatility(d.history.Series(symbol), 20)
	}
	opp := &model.ArbitrageOpportunity{
		Strategy:         kind,
		Symbol:           symbol,
		Legs:             legs,
		ExpectedProfit:   profit,
		ExpectedRateDiff: diff,
		Priority:         priorityFor(diff),
		Confidence:       conf,
		RiskLevel:        classifyRisk(diff, conf, vol),
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(ttl).UnixMilli(),
	}
	opp.ID = opportunityID(opp.DedupKey(), ts)
	return opp
}

// confidence 信心度 = 0.40·新鲜度 + 0.35·跨源一致性 + 0.25·历史命中率
// 随数据年龄与价格分歧单调下降
func (d *OpportunityDetector) confidence(kind model.StrategyKind, symbol string, age time.Duration, marks []float64) float64 {
	freshness := 1 - float64(age)/float64(d.cfg.MaxSnapshotAge)
	freshness = clamp(freshness, 0, 1)

	consistency := 0.7 // 价格源不足两个时的缺省值
	if len(marks) >= 2 {
		mean := Mean(marks)
		if mean > 0 {
			consistency = clamp(1-20*StdDev(marks)/mean, 0.1, 1)
		}
	}

	historical := 0.6 // 无成交历史时的缺省值
	if d.stats != nil {
		if rate, ok := d.stats.HitRate(kind, symbol); ok {
			historical = rate
		}
	}

	return clamp(0.40*freshness+0.35*consistency+0.25*historical, 0, 1)
}

// sizeFor 名义规模：信号强度按流动性系数放大后与凯利收缩后的单腿上限取小
func (d *OpportunityDetector) sizeFor(params StrategyParams, kind model.StrategyKind, symbol string, signal float64) float64 {
	limit := params.MaxPositionSize * d.kellyFraction(kind, symbol)
	size := signal * d.cfg.LiquidityScale
	if limit > 0 && size > limit {
		size = limit
	}
	if size <= 0 {
		size = limit
	}
	return size
}

// kellyFraction 凯利分数 f = 2p − 1（p 为该策略该符号的历史命中率），夹在 [0.25, 1]
// 无执行历史时不收缩
func (d *OpportunityDetector) kellyFraction(kind model.StrategyKind, symbol string) float64 {
	if d.stats == nil {
		return 1
	}
	p, ok := d.stats.HitRate(kind, symbol)
	if !ok {
		return 1
	}
	return clamp(2*p-1, 0.25, 1)
}

// markPrices 某符号在各所的标记价格，跨源一致性输入
func (d *OpportunityDetector) markPrices(view *model.MarketView, symbol string) []float64 {
	var marks []float64
	for _, snap := range view.Rates {
		if snap.Symbol == symbol && snap.MarkPrice > 0 {
			marks = append(marks, snap.MarkPrice)
		}
	}
	return marks
}

// finalize 去重（同策略同腿组合保留最高信心度）并按预期利润排序
func (d *OpportunityDetector) finalize(opps []*model.ArbitrageOpportunity) []*model.ArbitrageOpportunity {
	if len(opps) == 0 {
		return nil
	}
	best := make(map[string]*model.ArbitrageOpportunity, len(opps))
	for _, opp := range opps {
		key := opp.DedupKey()
		if cur, ok := best[key]; !ok || opp.Confidence > cur.Confidence {
			best[key] = opp
		}
	}

	out := make([]*model.ArbitrageOpportunity, 0, len(best))
	for _, opp := range best {
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpectedProfit != out[j].ExpectedProfit {
			return out[i].ExpectedProfit > out[j].ExpectedProfit
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// classifyRisk 风险分级：强信号高信心为低风险，年化波动率超过 100% 时整体上调一档
func classifyRisk(diff, confidence, vol float64) model.RiskLevel {
	level := model.RiskHigh
	switch {
	case diff > 0.001 && confidence > 0.8:
		level = model.RiskLow
	case diff > 0.0005 && confidence > 0.6:
		level = model.RiskMedium
	}
	if vol <= 1.0 {
		return level
	}
	if level == model.RiskLow {
		return model.RiskMedium
	}
	return model.RiskHigh
}

// priorityFor 路由优先级：每 0.1% 信号强度计 1 分，上限 10
func priorityFor(diff float64) int {
	p := int(diff / 0.001)
	if p > 10 {
		p = 10
	}
	if p < 0 {
		p = 0
	}
	return p
}

// opportunityID 由腿组合与数据时间戳导出的确定性 ID
func opportunityID(dedupKey string, ts int64) string {
	h := fnv.New64a()
	h.Write([]byte(dedupKey))
	fmt.Fprintf(h, "|%d", ts)
	return fmt.Sprintf("%016x", h.Sum64())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// earliestSettlement 两腿中较早的资金费结算时刻，缺失一侧时取另一侧
func earliestSettlement(a, b int64) int64 {
	if a <= 0 {
		return b
	}
	if b <= 0 || a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// findVenuePrice 在快照列表中找指定交易所的报价
func findVenuePrice(snaps []model.PriceSnapshot, exchange string) (model.PriceSnapshot, bool) {
	for _, s := range snaps {
		if s.Exchange == exchange {
			return s, true
		}
	}
	return model.PriceSnapshot{}, false
}

// latestVenue 某符号最新快照所在的交易所
func latestVenue(view *model.MarketView, symbol string) string {
	venue := ""
	var ts int64
	for _, snap := range view.Rates {
		if snap.Symbol == symbol && snap.CapturedAt >= ts {
			venue, ts = snap.Exchange, snap.CapturedAt
		}
	}
	if venue == "" {
		for _, snap := range view.Prices {
			if snap.Symbol == symbol && snap.CapturedAt >= ts {
				venue, ts = snap.Exchange, snap.CapturedAt
			}
		}
	}
	return venue
}
