// File: internal/browser/session/locator.go
package session

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

// By names the query language of a Locator.
type By int

const (
	// ByXPath evaluates the expression as a document-rooted XPath.
	ByXPath By = iota
	// ByCSS evaluates the expression with querySelector.
	ByCSS
)

func (b By) String() string {
	switch b {
	case ByXPath:
		return "xpath"
	case ByCSS:
		return "css"
	default:
		return fmt.Sprintf("By(%d)", int(b))
	}
}

// Locator identifies an element on the current page.
type Locator struct {
	Expr string
	By   By
}

// XPath returns a locator for an XPath expression.
func XPath(expr string) Locator { return Locator{Expr: expr, By: ByXPath} }

// CSS returns a locator for a CSS selector.
func CSS(sel string) Locator { return Locator{Expr: sel, By: ByCSS} }

func (l Locator) String() string {
	return l.By.String() + ":" + l.Expr
}

// queryOption maps the locator onto chromedp's query options.
func (l Locator) queryOption() chromedp.QueryOption {
	if l.By == ByCSS {
		return chromedp.ByQuery
	}
	return chromedp.BySearch
}
