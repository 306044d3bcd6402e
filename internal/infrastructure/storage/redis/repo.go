package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo 把最新费率放进 Hash，机会与执行结果写入 Stream
// 只保留热数据，历史查询走 SQL 仓储
type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyRates   string // prefix + ":rates"
	keyPos     string // prefix + ":positions"
	oppStream  string
	execStream string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "fundarb"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyRates:   prefix + ":rates",
		keyPos:     prefix + ":positions",
		oppStream:  prefix + ":opportunities",
		execStream: prefix + ":executions",
	}
}

func (r *Repo) Close() error { return r.rdb.Close() }

func (r *Repo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	// Hash: field = "binance:SOLUSDT" -> json
	field := fmt.Sprintf("%s:%s", snap.Exchange, snap.Symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyRates, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyRates, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	field := fmt.Sprintf("%s:%s", exchange, symbol)
	raw, err := r.rdb.HGet(ctx, r.keyRates, field).Result()
	if err != nil {
		return nil, err
	}
	var snap model.RateSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	b, err := json.Marshal(opp)
	if err != nil {
		return err
	}
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.oppStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"ts_ms":    opp.CreatedAt,
			"strategy": string(opp.Strategy),
			"symbol":   opp.Symbol,
			"payload":  string(b),
		},
	}).Result()
	return err
}

func (r *Repo) ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := r.rdb.XRevRangeN(ctx, r.oppStream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	var opps []*model.ArbitrageOpportunity
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var opp model.ArbitrageOpportunity
		if err := json.Unmarshal([]byte(payload), &opp); err != nil {
			continue
		}
		if strategy != "" && opp.Strategy != strategy {
			continue
		}
		opps = append(opps, &opp)
	}
	return opps, nil
}

func (r *Repo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.execStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"ts_ms":   res.CompletedAt,
			"status":  string(res.Status),
			"backend": string(res.Backend),
			"payload": string(b),
		},
	}).Result()
	return err
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	return r.writePosition(ctx, pos)
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	return r.writePosition(ctx, pos)
}

func (r *Repo) writePosition(ctx context.Context, pos *model.Position) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.keyPos, pos.ID, string(b)).Err()
}

func (r *Repo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	raw, err := r.rdb.HGet(ctx, r.keyPos, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	var pos model.Position
	if err := json.Unmarshal([]byte(raw), &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	all, err := r.rdb.HGetAll(ctx, r.keyPos).Result()
	if err != nil {
		return nil, err
	}
	var positions []*model.Position
	for _, raw := range all {
		var pos model.Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			continue
		}
		if pos.Terminal() {
			continue
		}
		positions = append(positions, &pos)
	}
	return positions, nil
}

var _ port.Repository = (*Repo)(nil)
