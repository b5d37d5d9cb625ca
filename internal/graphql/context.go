package graphql

import "context"

type contextKey string

const clientIPKey contextKey = "graphql.clientIP"

// WithClientIP stores the caller's address so lookup(ip:) can be omitted.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
