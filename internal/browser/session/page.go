// File: internal/browser/session/page.go
package session

import "context"

// NavigationWaiter blocks until the navigation it was armed for completes or
// ctx ends.
type NavigationWaiter func(ctx context.Context) error

// Page is the set of browser operations the login flow needs. Every call is
// bounded by its ctx.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// ExpectNavigation arms a listener for the next page load. Call it before
	// the action that triggers the load, then wait on the result.
	ExpectNavigation() NavigationWaiter
	// TagByText finds the first visible element matching selector whose text
	// contains one of keywords and returns a locator that addresses it.
	TagByText(ctx context.Context, selector string, keywords []string) (Locator, bool, error)
	WaitVisible(ctx context.Context, loc Locator) error
	Exists(ctx context.Context, loc Locator) (bool, error)
	Click(ctx context.Context, loc Locator) error
	// Type sends key events, as a user would.
	Type(ctx context.Context, loc Locator, text string) error
	// SetValue assigns the value property directly.
	SetValue(ctx context.Context, loc Locator, value string) error
	// Snapshot captures the current URL and the serialized document.
	Snapshot(ctx context.Context) (url string, markup string, err error)
}

// Provider hands out pages. Every acquired page must be released exactly once.
type Provider interface {
	Acquire(ctx context.Context) (Page, error)
	Release(ctx context.Context, p Page) error
}
