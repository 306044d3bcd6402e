package factory

import (
	"context"
	"sort"
	"strings"
	"time"

	"fundarb/internal/application/port"

	"github.com/rs/zerolog/log"
)

// CheckSymbols 启动时核对各交易所的上市符号，配置了不存在的符号只告警不中断。
// 符号拼错时轮询永远拉不到数据，这里提前暴露出来
func CheckSymbols(ctx context.Context, connectors map[string]port.ExchangeConnector, symbols []string) {
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		listed, err := connectors[name].Symbols(reqCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("exchange", name).Msg("failed to fetch symbol list")
			continue
		}

		supported := make(map[string]struct{}, len(listed))
		for _, s := range listed {
			supported[strings.ToUpper(s)] = struct{}{}
		}

		var missing []string
		for _, sym := range symbols {
			if _, ok := supported[strings.ToUpper(strings.TrimSpace(sym))]; !ok {
				missing = append(missing, sym)
			}
		}
		if len(missing) > 0 {
			log.Warn().
				Str("exchange", name).
				Strs("symbols", missing).
				Msg("⚠️ configured symbols not listed on this exchange")
			continue
		}
		log.Debug().Str("exchange", name).Int("listed", len(listed)).Msg("symbol check passed")
	}
}
