// File: internal/verifier/classifier.go
package verifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	pkgerrors "github.com/pkg/errors"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"golang.org/x/net/html"
)

// NavigationOutcome is the page state captured after the login flow settled.
type NavigationOutcome struct {
	URL    string
	Markup string
}

// VerdictKind is the tri-state result of a login attempt.
type VerdictKind int

const (
	Failure VerdictKind = iota
	PartialSuccess
	Success
)

func (k VerdictKind) String() string {
	switch k {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial"
	default:
		return "failure"
	}
}

// Link is an anchor harvested from the captured markup.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Diagnostic records what each signal saw.
type Diagnostic struct {
	IndicatorsTried    []string `json:"indicatorsTried"`
	KeywordMatched     string   `json:"keywordMatched,omitempty"`
	LinkHarvestRan     bool     `json:"linkHarvestRan"`
	LinksHarvested     int      `json:"linksHarvested"`
	CorroboratingLinks []Link   `json:"corroboratingLinks,omitempty"`
}

// AuthVerdict is the classifier's judgement of one login attempt.
type AuthVerdict struct {
	Kind             VerdictKind
	MatchedIndicator string
	Diagnostic       Diagnostic
}

// Classifier judges a captured page. It holds no per-request state and the
// same outcome always yields the same verdict.
type Classifier struct {
	fallbacks      []string
	logoutKeywords []string
	linkKeywords   []string
}

// NewClassifier builds a classifier from the verifier settings.
func NewClassifier(cfg config.VerifierConfig) *Classifier {
	return &Classifier{
		fallbacks:      append([]string(nil), cfg.FallbackIndicators...),
		logoutKeywords: lowerAll(cfg.LogoutKeywords),
		linkKeywords:   lowerAll(cfg.LinkKeywords),
	}
}

// Classify combines three signals:
//
//  1. the indicator, then each fallback expression in order, queried as XPath;
//  2. a case-insensitive keyword scan over the whole markup;
//  3. a harvest of visible links, run only when 1 missed and 2 hit.
//
// A structural hit is Success. A keyword hit backed by at least one logout
// link is PartialSuccess. Anything else is Failure.
func (c *Classifier) Classify(outcome NavigationOutcome, indicator string) (AuthVerdict, error) {
	var verdict AuthVerdict

	doc, err := htmlquery.Parse(strings.NewReader(outcome.Markup))
	if err != nil {
		return verdict, pkgerrors.Wrap(err, "failed to parse captured markup")
	}

	// 1. Structural search.
	for _, expr := range c.candidates(indicator) {
		verdict.Diagnostic.IndicatorsTried = append(verdict.Diagnostic.IndicatorsTried, expr)
		compiled, err := compileIndicator(doc, expr)
		if err != nil {
			return verdict, pkgerrors.WithStack(&InvalidIndicatorError{Expr: expr, Err: err})
		}
		if htmlquery.QuerySelector(doc, compiled) != nil {
			verdict.MatchedIndicator = expr
			break
		}
	}

	// 2. Keyword scan, computed regardless of signal 1.
	verdict.Diagnostic.KeywordMatched = firstContained(strings.ToLower(outcome.Markup), c.logoutKeywords)

	// 3. Link harvest.
	if verdict.MatchedIndicator == "" && verdict.Diagnostic.KeywordMatched != "" {
		links := harvestLinks(doc)
		verdict.Diagnostic.LinkHarvestRan = true
		verdict.Diagnostic.LinksHarvested = len(links)
		for _, l := range links {
			if firstContained(strings.ToLower(l.Text), c.linkKeywords) != "" ||
				firstContained(strings.ToLower(l.Href), c.linkKeywords) != "" {
				verdict.Diagnostic.CorroboratingLinks = append(verdict.Diagnostic.CorroboratingLinks, l)
			}
		}
	}

	switch {
	case verdict.MatchedIndicator != "":
		verdict.Kind = Success
	case verdict.Diagnostic.KeywordMatched != "" &&
		(len(verdict.Diagnostic.CorroboratingLinks) > 0 || !verdict.Diagnostic.LinkHarvestRan):
		verdict.Kind = PartialSuccess
	default:
		verdict.Kind = Failure
	}
	return verdict, nil
}

// candidates is the indicator followed by the fallbacks, without repeats.
func (c *Classifier) candidates(indicator string) []string {
	out := make([]string, 0, len(c.fallbacks)+1)
	seen := make(map[string]struct{}, len(c.fallbacks)+1)
	for _, expr := range append([]string{indicator}, c.fallbacks...) {
		if expr == "" {
			continue
		}
		if _, dup := seen[expr]; dup {
			continue
		}
		seen[expr] = struct{}{}
		out = append(out, expr)
	}
	return out
}

// harvestLinks returns every anchor with non-empty text that is not hidden
// by markup. Stylesheets are not evaluated.
func harvestLinks(doc *html.Node) []Link {
	var links []Link
	goquery.NewDocumentFromNode(doc).Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" || hiddenByMarkup(s.Get(0)) {
			return
		}
		href, _ := s.Attr("href")
		links = append(links, Link{Text: text, Href: href})
	})
	return links
}

// hiddenByMarkup reports whether n or an ancestor is hidden through the
// hidden attribute, aria-hidden or an inline style.
func hiddenByMarkup(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "hidden":
				return true
			case "aria-hidden":
				if strings.EqualFold(strings.TrimSpace(a.Val), "true") {
					return true
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return true
				}
			}
		}
	}
	return false
}

// errNotNodeSet rejects expressions such as count(//a) or true(), which are
// valid XPath but can never match an element.
var errNotNodeSet = errors.New("expression does not select elements")

// compileIndicator compiles expr and checks that it yields a node-set.
func compileIndicator(doc *html.Node, expr string) (compiled *xpath.Expr, err error) {
	compiled, err = xpath.Compile(expr)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Type errors in function arguments surface as panics at evaluation.
		if r := recover(); r != nil {
			compiled, err = nil, fmt.Errorf("evaluation failed: %v", r)
		}
	}()
	if _, ok := compiled.Evaluate(htmlquery.CreateXPathNavigator(doc)).(*xpath.NodeIterator); !ok {
		return nil, errNotNodeSet
	}
	return compiled, nil
}

func firstContained(haystack string, needles []string) string {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return n
		}
	}
	return ""
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
