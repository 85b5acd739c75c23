package domain

import "context"

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	runIDKey    contextKey = "sync_run_id"
)

// WithTenantID returns a context carrying the tenant ID
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantIDFromContext returns the tenant ID or "" when absent
func GetTenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRunID returns a context carrying the current sync run ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunIDFromContext returns the sync run ID or "" when absent
func GetRunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}
