package pagination

import "context"

type contextKey string

const paramsContextKey contextKey = "github.com/printy-garments/api/internal/platform/pagination/params"

// WithParams attaches parsed listing parameters to the context so handlers
// and repositories agree on page size and cursor without replumbing them.
func WithParams(ctx context.Context, params Params) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, paramsContextKey, params)
}

// FromContext returns the parameters stored by WithParams, if any.
func FromContext(ctx context.Context) (Params, bool) {
	if ctx == nil {
		return Params{}, false
	}
	params, ok := ctx.Value(paramsContextKey).(Params)
	return params, ok
}

// FromContextOrDefault behaves like FromContext but falls back to the
// default page size when nothing was attached or the size is unusable.
func FromContextOrDefault(ctx context.Context) Params {
	params, ok := FromContext(ctx)
	switch {
	case !ok:
		params = Params{PageSize: DefaultPageSize}
	case params.PageSize <= 0:
		params.PageSize = DefaultPageSize
	}
	return params
}
