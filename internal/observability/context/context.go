package context

import (
	stdcontext "context"
	"strings"
)

type requestIDKey struct{}
type userIDKey struct{}
type actionTypeKey struct{}

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, requestIDKey{})
}

// WithUserID stores the authenticated user for log correlation only.
func WithUserID(ctx stdcontext.Context, userID string) stdcontext.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, userIDKey{})
}

// WithActionType tags the context with the billable action being executed.
func WithActionType(ctx stdcontext.Context, actionType string) stdcontext.Context {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, actionTypeKey{}, actionType)
}

func ActionTypeFromContext(ctx stdcontext.Context) string {
	return stringValue(ctx, actionTypeKey{})
}

func stringValue(ctx stdcontext.Context, key any) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
