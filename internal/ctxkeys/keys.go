package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey 链路追踪 ID 的 context key
type TraceIDKey struct{}

// WithTraceID 为一次抓取或一条指令生成追踪 ID
func WithTraceID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, TraceIDKey{}, id), id
}

// TraceID 读取追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}
