package exchange

import (
	"strings"
)

// BaseCoin 从 USDT/USDC 计价的交易对中剥离出基础币种
// 行情统一用 BTCUSDT 风格的符号，各交易所再按自家格式重组
func BaseCoin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range []string{"USDT", "USDC", "BUSD", "USD"} {
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return strings.TrimSuffix(sym, quote)
		}
	}
	return sym
}
