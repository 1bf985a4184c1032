package answer

import "context"

// WithClientIP returns a context carrying the address of the client a
// query is answered for.
func WithClientIP(parent context.Context, ip string) context.Context {
	return context.WithValue(parent, clientIPKey, ip)
}

// ClientIP returns the client address stored by WithClientIP. ok is false
// if none was stored or it is empty.
func ClientIP(ctx context.Context) (ip string, ok bool) {
	ip, ok = ctx.Value(clientIPKey).(string)
	return ip, ok && ip != ""
}

type clientIPKeyType struct{}

var clientIPKey clientIPKeyType
