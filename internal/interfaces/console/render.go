package console

import (
	"fmt"
	"sort"
	"strings"

	"fundarb/internal/application/usecase/pipeline"
	"fundarb/internal/domain/model"
)

// ANSI color codes
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, color string) string {
	return color + s + ansiReset
}

// Renderer 把运行状态快照渲染成终端状态块
type Renderer struct {
	rateThreshold float64 // 费率差高亮阈值
}

// NewRenderer 创建状态渲染器
func NewRenderer(rateThreshold float64) *Renderer {
	return &Renderer{rateThreshold: rateThreshold}
}

// RenderStatus 渲染风控台账、执行统计与各交易所资金费率
func (r *Renderer) RenderStatus(snap pipeline.Snapshot) string {
	var sb strings.Builder

	sb.WriteString(colorize("[FUNDARB] ", ansiDim))

	pnlCol := ansiGreen
	if snap.Ledger.DailyRealizedPnl < 0 {
		pnlCol = ansiRed
	}
	breaker := colorize("breaker=ok", ansiGreen)
	if snap.Ledger.Breaker.Tripped {
		breaker = colorize("breaker=OPEN", ansiRed)
	}
	sb.WriteString(fmt.Sprintf("exposure=%.0f %s dd=%.0f %s open=%d",
		snap.Ledger.TotalExposure,
		colorize(fmt.Sprintf("pnl=%+.2f", snap.Ledger.DailyRealizedPnl), pnlCol),
		snap.Ledger.DrawdownUSD,
		breaker,
		len(snap.Positions)))

	stdTotal := snap.Stats.TotalByBackend[model.BackendStandard]
	stdOK := snap.Stats.SuccessByBackend[model.BackendStandard]
	llTotal := snap.Stats.TotalByBackend[model.BackendLowLatency]
	llOK := snap.Stats.SuccessByBackend[model.BackendLowLatency]
	sb.WriteString(fmt.Sprintf("  std=%d/%d ll=%d/%d ll_share=%.0f%% profit=%.2f",
		stdOK, stdTotal, llOK, llTotal,
		snap.Stats.LowLatencyShare*100, snap.Stats.TotalProfit))

	for _, line := range r.rateLines(snap.Rates) {
		sb.WriteString("\n  ")
		sb.WriteString(line)
	}

	return sb.String()
}

// rateLines 按符号汇总各交易所资金费率，附最大费率差
func (r *Renderer) rateLines(rates map[string]model.RateSnapshot) []string {
	bySymbol := make(map[string][]model.RateSnapshot)
	for _, snap := range rates {
		bySymbol[snap.Symbol] = append(bySymbol[snap.Symbol], snap)
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	lines := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		snaps := bySymbol[sym]
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Exchange < snaps[j].Exchange })

		var sb strings.Builder
		sb.WriteString(sym)
		minRate, maxRate := snaps[0].FundingRate, snaps[0].FundingRate
		for _, snap := range snaps {
			col := ansiYellow
			if snap.FundingRate >= r.rateThreshold {
				col = ansiGreen
			} else if snap.FundingRate <= -r.rateThreshold {
				col = ansiRed
			}
			sb.WriteString(" ")
			sb.WriteString(colorize(fmt.Sprintf("%s:%+.4f%%", snap.Exchange, snap.FundingRate*100), col))
			if snap.FundingRate < minRate {
				minRate = snap.FundingRate
			}
			if snap.FundingRate > maxRate {
				maxRate = snap.FundingRate
			}
		}

		dCol := ansiYellow
		if maxRate-minRate >= r.rateThreshold {
			dCol = ansiGreen
		}
		sb.WriteString(" ")
		sb.WriteString(colorize(fmt.Sprintf("Δ=%.4f%%", (maxRate-minRate)*100), dCol))
		lines = append(lines, sb.String())
	}

	return lines
}
