package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

type TickerFeed struct {
	wsURL string // e.g. wss://ws.backpack.exchange
}

// NewTickerFeed 创建 Backpack 永续盘口 feed
func NewTickerFeed(wsURL string) *TickerFeed {
	return &TickerFeed{
		wsURL: strings.TrimSpace(wsURL),
	}
}

func (f *TickerFeed) Name() string { return exchangeName }

type backpackSubReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type backpackStreamMsg struct {
	Stream string         `json:"stream"`
	Data   backpackBookTk `json:"data"`
}

type backpackBookTk struct {
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	AskPrice  string `json:"a"`
	EngineTs  int64  `json:"E"` // 微秒
	TradeTime int64  `json:"T"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	if f.wsURL == "" {
		return nil, errors.New("backpack ws_url empty")
	}

	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		// 转为 Backpack 永续市场格式 (SOLUSDT -> SOL_USDC_PERP)
		streams = append(streams, "bookTicker."+perpSymbol(sym))
	}
	if len(streams) == 0 {
		return nil, errors.New("no valid symbols for backpack streams")
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, streams, out)
	return out, nil
}

func (f *TickerFeed) run(ctx context.Context, streams []string, out chan<- port.Tick) {
	defer close(out)

	ws := &exchange.WSHelper{URL: f.wsURL}
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().Str("feed", f.Name()).Str("url", f.wsURL).Msg("ws connecting")
		conn, err := ws.DialWS(ctx)
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			time.Sleep(backoff)
			backoff = exchange.MinDuration(backoff*2, maxBackoff)
			continue
		}

		// subscribe
		sub := backpackSubReq{Method: "SUBSCRIBE", Params: streams}
		if err := conn.WriteJSON(sub); err != nil {
			_ = conn.Close()
			log.Error().Str("feed", f.Name()).Err(err).Msg("subscribe failed")
			time.Sleep(backoff)
			backoff = exchange.MinDuration(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected & subscribed")

		err = ws.ReadWithPing(ctx, conn, func(b []byte) {
			var msg backpackStreamMsg
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("json unmarshal failed")
				return
			}
			if !strings.HasPrefix(msg.Stream, "bookTicker.") {
				return
			}

			sym := canonicalSymbol(msg.Data.Symbol)
			if sym == "" {
				return
			}
			bid, _ := strconv.ParseFloat(strings.TrimSpace(msg.Data.BidPrice), 64)
			ask, _ := strconv.ParseFloat(strings.TrimSpace(msg.Data.AskPrice), 64)
			if bid <= 0 || ask <= 0 {
				return
			}

			// 引擎时间戳为微秒
			ts := msg.Data.EngineTs / 1000
			if ts <= 0 {
				ts = time.Now().UnixMilli()
			}

			out <- port.Tick{
				Exchange: f.Name(),
				Symbol:   sym,
				Bid:      bid,
				Ask:      ask,
				Ts:       ts,
			}
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = exchange.MinDuration(backoff*2, maxBackoff)
	}
}
