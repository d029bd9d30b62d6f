// File: internal/verifier/strategy.go
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
)

// Strategy tries to locate one element. It reports found=false for a clean
// miss and an error only when the page could not be queried at all.
type Strategy func(ctx context.Context, p session.Page) (loc session.Locator, found bool, err error)

// FirstFound runs strategies left to right and returns the first hit.
// An error stops the scan.
func FirstFound(strategies ...Strategy) Strategy {
	return func(ctx context.Context, p session.Page) (session.Locator, bool, error) {
		for _, s := range strategies {
			loc, found, err := s(ctx, p)
			if err != nil {
				return session.Locator{}, false, err
			}
			if found {
				return loc, true, nil
			}
		}
		return session.Locator{}, false, nil
	}
}

// Visible waits up to timeout for loc to become visible. Running out of
// time is a miss, not an error.
func Visible(loc session.Locator, timeout time.Duration) Strategy {
	return func(ctx context.Context, p session.Page) (session.Locator, bool, error) {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := p.WaitVisible(waitCtx, loc)
		switch {
		case err == nil:
			return loc, true, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return session.Locator{}, false, nil
		default:
			return session.Locator{}, false, err
		}
	}
}

// Present checks once whether loc matches anything.
func Present(loc session.Locator) Strategy {
	return func(ctx context.Context, p session.Page) (session.Locator, bool, error) {
		ok, err := p.Exists(ctx, loc)
		if err != nil || !ok {
			return session.Locator{}, false, err
		}
		return loc, true, nil
	}
}

// SelectorScan tries each CSS selector in priority order.
func SelectorScan(selectors []string) Strategy {
	strategies := make([]Strategy, 0, len(selectors))
	for _, sel := range selectors {
		strategies = append(strategies, Present(session.CSS(sel)))
	}
	return FirstFound(strategies...)
}
