package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// ExecutionBackend 执行后端
// 同一请求可能被路由器在两个后端之间切换重试，实现必须可并发调用
type ExecutionBackend interface {
	Kind() model.BackendKind
	// Execute 执行一笔多腿请求，返回逐腿成交
	Execute(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error)
	// CurrentLoad 在途请求数，路由器据此做负载削减
	CurrentLoad() int
}
