package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

// HeaderName 请求头中携带 trace ID 的字段
const HeaderName = "X-Trace-ID"

// GenerateTraceID 生成新的 trace ID（32 位十六进制）
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure 返回带有 trace_id 的 context；header 为空时生成新的 ID
func Ensure(ctx context.Context, headerValue string) (context.Context, string) {
	if headerValue == "" {
		headerValue = GenerateTraceID()
	}
	return WithContext(ctx, headerValue), headerValue
}
