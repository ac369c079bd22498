package router

import (
	"context"
	"errors"
	"fmt"
)

// Classifier reports whether an error should be counted against the endpoint
// and retried on the next one.
type Classifier func(err error) bool

// Call runs fn against router-selected endpoints. A failure that the
// classifier marks transient is reported to the router and retried on the
// next healthy endpoint, up to budget attempts. Other errors are returned
// immediately without touching endpoint health.
func Call[T any](ctx context.Context, r *Router, budget int, transient Classifier, fn func(ctx context.Context, ep Endpoint) (T, error)) (T, error) {
	var zero T
	if budget <= 0 {
		budget = 1
	}

	ep, err := r.Next()
	if err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx, ep)
		if err == nil {
			r.ReportSuccess(ep.ID)
			return v, nil
		}
		if errors.Is(err, context.Canceled) || (transient != nil && !transient(err)) {
			return zero, err
		}

		r.ReportFailure(ctx, ep.ID, err)
		lastErr = fmt.Errorf("endpoint %s: %w", ep.Name, err)
		if attempt >= budget {
			break
		}

		ep, err = r.SelectEndpoint(ep.ID)
		if err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}
	return zero, fmt.Errorf("retry budget of %d exhausted: %w", budget, lastErr)
}
