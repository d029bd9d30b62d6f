// File: internal/browser/session/allocator.go
package session

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
)

// flag is a command-line switch passed to the browser. A false boolean value
// removes the switch.
type flag struct {
	Name  string
	Value interface{}
}

// allocatorFlags lists the switches layered over chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		// chromedp turns this on by default and it is the loudest automation tell.
		{"enable-automation", false},
		{"headless", cfg.Headless},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
	}
	if cfg.Locale != "" {
		flags = append(flags, flag{"lang", cfg.Locale})
	}

	// Serverless and container hosts run without a usable sandbox or /dev/shm.
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
			flag{"no-zygote", true},
		)
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, flag{name, parts[1]})
		} else {
			flags = append(flags, flag{name, true})
		}
	}
	return flags
}

// ResolveExecPath picks the browser binary: the configured path, then
// CHROME_PATH. An empty result lets chromedp search the usual locations.
func ResolveExecPath(configured string) (string, error) {
	path := configured
	if path == "" {
		path = os.Getenv("CHROME_PATH")
	}
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand browser path %q: %w", path, err)
	}
	if _, err := os.Stat(expanded); err != nil {
		return "", fmt.Errorf("browser binary %q is not usable: %w", expanded, err)
	}
	return expanded, nil
}

// AllocatorOptions assembles the exec allocator options for one browser process.
func AllocatorOptions(cfg config.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	execPath, err := ResolveExecPath(cfg.ExecPath)
	if err != nil {
		return nil, err
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts, nil
}
