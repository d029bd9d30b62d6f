// File: internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsTemplate string

const capabilitiesPlaceholder = "/*CAPABILITIES*/"

// Capabilities selects which automation fingerprints are masked before any
// page script runs.
type Capabilities struct {
	HideWebdriver     bool     `json:"hideWebdriver"`
	Languages         []string `json:"languages"`
	StubPlugins       bool     `json:"stubPlugins"`
	StubChromeRuntime bool     `json:"stubChromeRuntime"`
}

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Locale    string
	Languages []string
	Timezone  string
}

// DefaultPersona is a Japanese desktop Chrome on Windows.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Locale:    "ja-JP",
	Languages: []string{"ja-JP", "ja", "en-US", "en"},
	Timezone:  "Asia/Tokyo",
}

// FullCapabilities masks every fingerprint the script knows about, reporting
// the persona's language list.
func FullCapabilities(p Persona) Capabilities {
	return Capabilities{
		HideWebdriver:     true,
		Languages:         p.Languages,
		StubPlugins:       true,
		StubChromeRuntime: true,
	}
}

// Script renders the evasion script for the given capabilities.
func Script(c Capabilities) (string, error) {
	if c.Languages == nil {
		c.Languages = []string{}
	}
	block, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode stealth capabilities: %w", err)
	}
	return strings.Replace(evasionsTemplate, capabilitiesPlaceholder, string(block), 1), nil
}

// AcceptLanguage builds an Accept-Language header value with descending
// quality weights, e.g. "ja-JP,ja;q=0.9,en-US;q=0.8".
func AcceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(langs[0])
	q := 9
	for _, l := range langs[1:] {
		if q < 1 {
			q = 1
		}
		fmt.Fprintf(&b, ",%s;q=0.%d", l, q)
		q--
	}
	return b.String()
}

// Apply constructs the Chrome DevTools Protocol actions that make the
// headless browser present itself as the persona with the selected
// capabilities. It must run on a started target.
func Apply(p Persona, c Capabilities, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("locale", p.Locale),
		zap.Bool("hideWebdriver", c.HideWebdriver),
	)

	acceptLanguage := AcceptLanguage(p.Languages)
	tasks := chromedp.Tasks{}

	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if acceptLanguage != "" {
			ua = ua.WithAcceptLanguage(acceptLanguage)
		}
		tasks = append(tasks, ua)
	}

	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := Script(c)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("failed to inject evasions script: %w", err)
		}
		return nil
	}))

	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if acceptLanguage != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage,
		}))
	}
	return tasks
}
