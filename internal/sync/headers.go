package sync

import "context"

type headersKey struct{}

// WithHeaders attaches request headers to ctx for the duration of one
// Sync call. They apply to every remote call made during that
// invocation and are cleared afterward simply by the derived context
// going out of scope once Sync returns.
func WithHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, headers)
}

// HeadersFromContext returns the headers attached by WithHeaders, if
// any. RemoteStore implementations call this to pick up per-invocation
// headers.
func HeadersFromContext(ctx context.Context) (map[string]string, bool) {
	headers, ok := ctx.Value(headersKey{}).(map[string]string)
	return headers, ok
}
