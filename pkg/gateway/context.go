package gateway

import "context"

type ctxKey string

const clientIDKey ctxKey = "client_id"

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientID returns the gateway client id assigned to the request, if any.
func ClientID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}
