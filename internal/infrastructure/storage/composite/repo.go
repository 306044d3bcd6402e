package composite

import (
	"context"
	"errors"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo 组合仓储：写操作广播到全部仓储，读操作按注册顺序取第一个成功的
// 第一个仓储视为主仓储，镜像失败不阻断主流程
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveOpportunity(ctx, opp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error) {
	var lastErr error
	for _, repo := range r.repos {
		opps, err := repo.ListOpportunities(ctx, strategy, limit)
		if err == nil {
			return opps, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Repo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveExecution(ctx, res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SavePosition(ctx, pos); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpdatePosition(ctx, pos); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var lastErr error
	for _, repo := range r.repos {
		pos, err := repo.GetPosition(ctx, id)
		if err == nil {
			return pos, nil
		}
		lastErr = err
		if errors.Is(err, model.ErrPositionNotFound) {
			// 主仓储没有就不需要再问镜像
			break
		}
	}
	return nil, lastErr
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	var lastErr error
	for _, repo := range r.repos {
		positions, err := repo.ListOpenPositions(ctx)
		if err == nil {
			return positions, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Repo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveRateSnapshot(ctx, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	var lastErr error
	for _, repo := range r.repos {
		snap, err := repo.LatestRate(ctx, exchange, symbol)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Repository = (*Repo)(nil)
