package auditcontext

import (
	"context"
	"strings"
)

type requestInfoKey struct{}

type requestInfo struct {
	ipAddress string
	userAgent string
}

// WithRequest attaches the caller's network identity for audit entries.
func WithRequest(ctx context.Context, ipAddress, userAgent string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{
		ipAddress: strings.TrimSpace(ipAddress),
		userAgent: strings.TrimSpace(userAgent),
	})
}

func IPAddressFromContext(ctx context.Context) string {
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info.ipAddress
}

func UserAgentFromContext(ctx context.Context) string {
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info.userAgent
}
