package okx

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type TickerFeed struct {
	wsURL string // e.g. wss://ws.okx.com:8443/ws/v5/public
}

// NewTickerFeed 创建 OKX ticker feed
func NewTickerFeed(wsURL string) *TickerFeed {
	return &TickerFeed{
		wsURL: strings.TrimSpace(wsURL),
	}
}

func (f *TickerFeed) Name() string { return exchangeName }

type okxSubReq struct {
	Op   string      `json:"op"`
	Args []okxSubArg `json:"args"`
}

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxTickerMsg struct {
	Event string          `json:"event,omitempty"`
	Code  string          `json:"code,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Arg   okxSubArg       `json:"arg,omitempty"`
	Data  []okxTickerData `json:"data,omitempty"`
}

type okxTickerData struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	if f.wsURL == "" {
		return nil, errors.New("okx ws_url empty")
	}
	if len(symbols) == 0 {
		return nil, errors.New("symbols empty")
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, symbols, out)
	return out, nil
}

func (f *TickerFeed) run(ctx context.Context, symbols []string, out chan<- port.Tick) {
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

		// 订阅 tickers 频道，符号转为 OKX 合约格式 (BTCUSDT -> BTC-USDT-SWAP)
		args := make([]okxSubArg, 0, len(symbols))
		for _, sym := range symbols {
			sym = strings.TrimSpace(sym)
			if sym == "" {
				continue
			}
			args = append(args, okxSubArg{
				Channel: "tickers",
				InstID:  symbolToInstID(sym),
			})
		}

		if len(args) > 0 {
			subReq := okxSubReq{
				Op:   "subscribe",
				Args: args,
			}
			if b, err := json.Marshal(subReq); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, b)
			}
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected & subscribed")

		err = ws.ReadWithPing(ctx, conn, func(b []byte) {
			var msg okxTickerMsg
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("json unmarshal failed")
				return
			}

			if msg.Event == "error" {
				log.Error().Str("feed", f.Name()).Str("code", msg.Code).Str("msg", msg.Msg).Msg("subscribe not success")
				return
			}
			if len(msg.Data) == 0 {
				return
			}

			for _, data := range msg.Data {
				sym := instIDToSymbol(data.InstID)
				if sym == "" {
					continue
				}

				bid, _ := strconv.ParseFloat(strings.TrimSpace(data.BidPx), 64)
				ask, _ := strconv.ParseFloat(strings.TrimSpace(data.AskPx), 64)
				if bid <= 0 || ask <= 0 {
					continue
				}

				ts := time.Now().UnixMilli()
				if data.Ts != "" {
					if tsNum, err := strconv.ParseInt(data.Ts, 10, 64); err == nil {
						ts = tsNum
					}
				}

				out <- port.Tick{
					Exchange: f.Name(),
					Symbol:   sym,
					Bid:      bid,
					Ask:      ask,
					Ts:       ts,
				}
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
