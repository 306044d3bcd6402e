package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// Repository 流水线持久化
type Repository interface {
	// Opportunity operations
	SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error
	ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error)

	// Execution operations
	SaveExecution(ctx context.Context, res *model.ExecutionResult) error

	// Position operations
	SavePosition(ctx context.Context, pos *model.Position) error
	UpdatePosition(ctx context.Context, pos *model.Position) error
	GetPosition(ctx context.Context, id string) (*model.Position, error)
	ListOpenPositions(ctx context.Context) ([]*model.Position, error)

	// Rate snapshots
	SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error
	LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error)

	// Connection management
	Close() error
}
