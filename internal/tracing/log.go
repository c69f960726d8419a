package tracing

import (
	"context"

	"github.com/looplj/agentpay/internal/contexts"
	"github.com/looplj/agentpay/internal/log"
)

// SetupLogger attaches the principal to every entry emitted with a request context.
func SetupLogger(logger *log.Logger) {
	logger.AddHook(log.HookFunc(PrincipalFieldsHook))
}

// PrincipalFieldsHook adds the authenticated user id when present.
func PrincipalFieldsHook(ctx context.Context, msg string, fields ...log.Field) []log.Field {
	if ctx == nil {
		return fields
	}

	if userID, ok := contexts.GetPrincipal(ctx); ok {
		fields = append(fields, log.String("user_id", userID))
	}

	return fields
}
