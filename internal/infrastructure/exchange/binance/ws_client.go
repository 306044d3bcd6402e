package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

type TickerFeed struct {
	wsURL string // e.g. wss://fstream.binance.com
}

// NewTickerFeed 创建 Binance 合约盘口 feed
func NewTickerFeed(wsURL string) *TickerFeed {
	return &TickerFeed{
		wsURL: strings.TrimSpace(wsURL),
	}
}

func (f *TickerFeed) Name() string { return exchangeName }

type binanceCombined struct {
	Stream string        `json:"stream"`
	Data   binanceBookTk `json:"data"`
}

type binanceBookTk struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	wsURL, err := buildCombinedURL(f.wsURL, symbols)
	if err != nil {
		return nil, err
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, wsURL, out)
	return out, nil
}

func buildCombinedURL(base string, symbols []string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_url empty")
	}
	if len(symbols) == 0 {
		return "", errors.New("symbols empty")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@bookTicker", s))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

func (f *TickerFeed) run(ctx context.Context, wsURL string, out chan<- port.Tick) {
	defer close(out)

	ws := &exchange.WSHelper{URL: wsURL}
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().Str("feed", f.Name()).Str("url", wsURL).Msg("ws connecting")
		conn, err := ws.DialWS(ctx)
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			time.Sleep(backoff)
			backoff = exchange.MinDuration(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected")

		err = ws.ReadWithPing(ctx, conn, func(b []byte) {
			var msg binanceCombined
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("json unmarshal failed")
				return
			}
			sym := strings.ToUpper(msg.Data.Symbol)
			if sym == "" {
				return
			}
			bid, _ := strconv.ParseFloat(strings.TrimSpace(msg.Data.BidPrice), 64)
			ask, _ := strconv.ParseFloat(strings.TrimSpace(msg.Data.AskPrice), 64)
			if bid <= 0 || ask <= 0 {
				return
			}
			out <- port.Tick{
				Exchange: f.Name(),
				Symbol:   sym,
				Bid:      bid,
				Ask:      ask,
				Ts:       time.Now().UnixMilli(),
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
