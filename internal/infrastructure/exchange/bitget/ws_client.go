package bitget

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

const exchangeName = "bitget"

type TickerFeed struct {
	wsURL string // e.g. wss://ws.bitget.com/v2/ws/public
}

// NewTickerFeed 创建 Bitget ticker feed
func NewTickerFeed(wsURL string) *TickerFeed {
	return &TickerFeed{
		wsURL: strings.TrimSpace(wsURL),
	}
}

func (f *TickerFeed) Name() string { return exchangeName }

type bitgetSubReq struct {
	Op   string         `json:"op"`
	Args []bitgetSubArg `json:"args"`
}

type bitgetSubArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetTickerMsg struct {
	Event  string             `json:"event,omitempty"`
	Code   json.Number        `json:"code,omitempty"`
	Msg    string             `json:"msg,omitempty"`
	Action string             `json:"action,omitempty"`
	Arg    bitgetSubArg       `json:"arg,omitempty"`
	Data   []bitgetTickerData `json:"data,omitempty"`
}

type bitgetTickerData struct {
	InstID string `json:"instId"`
	LastPr string `json:"lastPr"`
	BidPr  string `json:"bidPr"`
	AskPr  string `json:"askPr"`
	Ts     string `json:"ts"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	if f.wsURL == "" {
		return nil, errors.New("bitget ws_url empty")
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

		// 订阅 USDT 永续 ticker 频道，U 本位合约 instId 即 BTCUSDT 形式
		args := make([]bitgetSubArg, 0, len(symbols))
		for _, sym := range symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			args = append(args, bitgetSubArg{
				InstType: "USDT-FUTURES",
				Channel:  "ticker",
				InstID:   sym,
			})
		}

		if len(args) > 0 {
			subReq := bitgetSubReq{
				Op:   "subscribe",
				Args: args,
			}
			if b, err := json.Marshal(subReq); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, b)
			}
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected & subscribed")

		// Bitget 用文本 ping/pong 保活，不能走通用的控制帧读循环
		err = textPingReadLoop(ctx, conn, func(b []byte) {
			var msg bitgetTickerMsg
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("json unmarshal failed")
				return
			}

			if msg.Event == "error" {
				log.Error().Str("feed", f.Name()).Str("code", msg.Code.String()).Str("msg", msg.Msg).Msg("subscribe not success")
				return
			}
			if len(msg.Data) == 0 {
				return
			}

			for _, data := range msg.Data {
				sym := strings.ToUpper(strings.TrimSpace(data.InstID))
				if sym == "" {
					continue
				}

				bid, _ := strconv.ParseFloat(strings.TrimSpace(data.BidPr), 64)
				ask, _ := strconv.ParseFloat(strings.TrimSpace(data.AskPr), 64)
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

func textPingReadLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if string(b) == "pong" {
				continue
			}
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		}
	}
}
