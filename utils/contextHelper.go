package utils

import "context"

type contextKey string

const (
	correlationIdKey contextKey = "CorrelationId"
	// jobActorKey names who started a job, e.g. "manual", "pubsub:<subscription>" or "cli:<tool>".
	jobActorKey contextKey = "JobActor"
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, correlationIdKey)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, correlationIdKey, correlationId)
}

func GetJobActorFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, jobActorKey)
}

func SetJobActorInContext(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, jobActorKey, actor)
}
