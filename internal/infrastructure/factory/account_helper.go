package factory

import (
	"context"
	"errors"
	"sort"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// LogBalances 启动时记录各交易所账户余额
func LogBalances(ctx context.Context, connectors map[string]port.ExchangeConnector) {
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		balance, err := connectors[name].Balance(reqCtx)
		cancel()
		if err != nil {
			if errors.Is(err, model.ErrAuth) {
				log.Debug().Str("exchange", name).Msg("unsigned connector, skip balance")
				continue
			}
			log.Warn().Err(err).Str("exchange", name).Msg("failed to fetch balance")
			continue
		}
		log.Info().
			Str("exchange", name).
			Float64("balance_usdt", balance).
			Msgf("%s account balance", name)
	}
}
