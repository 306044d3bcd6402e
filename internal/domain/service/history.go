package service

import (
	"math"
	"sync"
)

// PriceHistory 各符号中间价滚动序列，统计套利与相关性检查的输入
type PriceHistory struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]float64
}

// NewPriceHistory 创建价格序列缓存，capacity <= 0 时取 256
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity <= 0 {
		capacity = 256
	}
	return &PriceHistory{
		capacity: capacity,
		series:   make(map[string][]float64),
	}
}

// Push 追加一个观测值，超出容量时淘汰最旧
func (h *PriceHistory) Push(symbol string, price float64) {
	if price <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.series[symbol], price)
	if len(s) > h.capacity {
		s = s[len(s)-h.capacity:]
	}
	h.series[symbol] = s
}

// Series 返回符号的观测序列副本
func (h *PriceHistory) Series(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.series[symbol]
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// Len 符号当前样本数
func (h *PriceHistory) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[symbol])
}

// Mean 算术平均
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev 总体标准差
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// Pearson 两序列的皮尔逊相关系数，长度不足或方差为零时返回 0
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	meanA, meanB := Mean(a), Mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// ZScore 当前值相对序列的标准分，标准差为零时返回 0
func ZScore(current float64, xs []float64) float64 {
	sd := StdDev(xs)
	if sd == 0 {
		return 0
	}
	return (current - Mean(xs)) / sd
}

// AnnualizedVolatility 最近 window 个观测的简单收益率标准差按 √252 年化，样本不足返回 0
func AnnualizedVolatility(xs []float64, window int) float64 {
	if window > 0 && len(xs) > window {
		xs = xs[len(xs)-window:]
	}
	if len(xs) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		if xs[i-1] <= 0 {
			continue
		}
		returns = append(returns, xs[i]/xs[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(252)
}
