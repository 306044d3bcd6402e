package storage

import (
	"context"
	"sync"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// InMemoryRepo 进程内仓储，dry-run 与测试用
type InMemoryRepo struct {
	mu            sync.RWMutex
	opportunities []*model.ArbitrageOpportunity
	executions    []*model.ExecutionResult
	positions     map[string]*model.Position
	rates         map[string]*model.RateSnapshot // key = exchange:symbol
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		positions: make(map[string]*model.Position),
		rates:     make(map[string]*model.RateSnapshot),
	}
}

func (r *InMemoryRepo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *opp
	r.opportunities = append(r.opportunities, &cp)
	return nil
}

func (r *InMemoryRepo) ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*model.ArbitrageOpportunity
	for i := len(r.opportunities) - 1; i >= 0 && len(out) < limit; i-- {
		opp := r.opportunities[i]
		if strategy != "" && opp.Strategy != strategy {
			continue
		}
		cp := *opp
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.executions = append(r.executions, &cp)
	return nil
}

func (r *InMemoryRepo) SavePosition(ctx context.Context, pos *model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	cp.Legs = append([]model.PositionLeg(nil), pos.Legs...)
	r.positions[pos.ID] = &cp
	return nil
}

func (r *InMemoryRepo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	return r.SavePosition(ctx, pos)
}

func (r *InMemoryRepo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[id]
	if !ok {
		return nil, model.ErrPositionNotFound
	}
	cp := *pos
	cp.Legs = append([]model.PositionLeg(nil), pos.Legs...)
	return &cp, nil
}

func (r *InMemoryRepo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Position
	for _, pos := range r.positions {
		if pos.Terminal() {
			continue
		}
		cp := *pos
		cp.Legs = append([]model.PositionLeg(nil), pos.Legs...)
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *snap
	r.rates[snap.Key()] = &cp
	return nil
}

func (r *InMemoryRepo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.rates[exchange+":"+symbol]
	if !ok {
		return nil, model.ErrTransientData
	}
	cp := *snap
	return &cp, nil
}

// ExecutionCount 测试辅助
func (r *InMemoryRepo) ExecutionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executions)
}

func (r *InMemoryRepo) Close() error { return nil }

var _ port.Repository = (*InMemoryRepo)(nil)
