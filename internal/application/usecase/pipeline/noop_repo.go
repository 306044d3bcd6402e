package pipeline

import (
	"context"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

type noopRepo struct{}

// NewNoopRepo 返回不落库的仓储实现，干跑与测试用
func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	return nil
}

func (n *noopRepo) ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error) {
	return nil, nil
}

func (n *noopRepo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error { return nil }

func (n *noopRepo) SavePosition(ctx context.Context, pos *model.Position) error   { return nil }
func (n *noopRepo) UpdatePosition(ctx context.Context, pos *model.Position) error { return nil }

func (n *noopRepo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return nil, model.ErrPositionNotFound
}

func (n *noopRepo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	return nil, nil
}

func (n *noopRepo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error { return nil }

func (n *noopRepo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	return nil, nil
}

func (n *noopRepo) Close() error { return nil }
