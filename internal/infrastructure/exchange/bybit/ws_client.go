package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

type TickerFeed struct {
	wsURL string // e.g. wss://stream.bybit.com/v5/public/linear
}

// NewTickerFeed 创建 Bybit ticker feed
func NewTickerFeed(wsURL string) *TickerFeed {
	return &TickerFeed{
		wsURL: strings.TrimSpace(wsURL),
	}
}

func (f *TickerFeed) Name() string { return exchangeName }

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitTickerItem struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
}

// data can be object OR array
type BybitDataList []bybitTickerItem

func (d *BybitDataList) UnmarshalJSON(b []byte) error {
	b = exchange.BytesTrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = BybitDataList(arr)
		return nil
	case '{':
		var one bybitTickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = BybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type bybitTickerMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  BybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	if f.wsURL == "" {
		return nil, errors.New("bybit ws_url empty")
	}

	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		topics = append(topics, "tickers."+sym)
	}

	if len(topics) == 0 {
		return nil, errors.New("no valid symbols for bybit topics")
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, topics, out)
	return out, nil
}

// bookState 盘口增量推送只带变化字段，需要按符号合并
type bookState struct {
	bid float64
	ask float64
}

func (f *TickerFeed) run(ctx context.Context, topics []string, out chan<- port.Tick) {
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
		sub := bybitSubReq{Op: "subscribe", Args: topics}
		if err := conn.WriteJSON(sub); err != nil {
			_ = conn.Close()
			log.Error().Str("feed", f.Name()).Err(err).Msg("subscribe failed")
			time.Sleep(backoff)
			backoff = exchange.MinDuration(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected & subscribed")

		// 重连后盘口状态重建
		books := make(map[string]*bookState)

		err = ws.ReadWithPing(ctx, conn, func(b []byte) {
			var msg bybitTickerMsg
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("json unmarshal failed")
				return
			}

			// ack
			if msg.Success != nil {
				if !*msg.Success {
					log.Error().Str("feed", f.Name()).Str("ret_msg", msg.RetMsg).Msg("subscribe not success")
				}
				return
			}

			if len(msg.Data) == 0 {
				return
			}

			for _, d := range msg.Data {
				sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
				if sym == "" {
					continue
				}

				book := books[sym]
				if book == nil {
					book = &bookState{}
					books[sym] = book
				}
				if px, e := strconv.ParseFloat(strings.TrimSpace(d.Bid1Price), 64); e == nil && px > 0 {
					book.bid = px
				}
				if px, e := strconv.ParseFloat(strings.TrimSpace(d.Ask1Price), 64); e == nil && px > 0 {
					book.ask = px
				}
				if book.bid <= 0 || book.ask <= 0 {
					continue
				}

				ts := msg.Ts
				if ts == 0 {
					ts = time.Now().UnixMilli()
				}
				out <- port.Tick{
					Exchange: f.Name(),
					Symbol:   sym,
					Bid:      book.bid,
					Ask:      book.ask,
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
