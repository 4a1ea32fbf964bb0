package logging

import (
	"context"
)

const (
	CorrelationIDKey = "correlation_id"
	BatchIDKey       = "batch_id"
	MessageIDKey     = "message_id"
	StageKey         = "stage"
	ServiceNameKey   = "service_name"
)

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

func GetBatchID(ctx context.Context) string {
	if v, ok := ctx.Value(BatchIDKey).(string); ok {
		return v
	}
	return ""
}

func GetMessageID(ctx context.Context) string {
	if v, ok := ctx.Value(MessageIDKey).(string); ok {
		return v
	}
	return ""
}

func GetStage(ctx context.Context) string {
	if v, ok := ctx.Value(StageKey).(string); ok {
		return v
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if v, ok := ctx.Value(ServiceNameKey).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	if v := GetCorrelationID(ctx); v != "" {
		fields = append(fields, "correlation_id", v)
	}

	if v := GetBatchID(ctx); v != "" {
		fields = append(fields, "batch_id", v)
	}

	if v := GetMessageID(ctx); v != "" {
		fields = append(fields, "message_id", v)
	}

	if v := GetStage(ctx); v != "" {
		fields = append(fields, "stage", v)
	}

	if v := GetServiceName(ctx); v != "" {
		fields = append(fields, "service_name", v)
	}

	return fields
}
