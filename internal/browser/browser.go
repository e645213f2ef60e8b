// Package browser drives the host form in a real Chrome over the DevTools
// protocol. A Page implements dom.Document so the scanner and manipulator
// run against the live tab exactly as they do against a snapshot.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Options configures Chrome.
type Options struct {
	// Remote is the DevTools URL of a running Chrome. Empty launches one.
	Remote string
	// Bin is the Chrome executable. Empty looks it up.
	Bin string
	// Profile is the user data directory, so the host's login survives
	// between runs.
	Profile  string
	Headless bool
	Width    int
	Height   int
	Logger   *zap.Logger
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = 1440
	}
	if o.Height <= 0 {
		o.Height = 900
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Browser wraps the Rod browser for reuse.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	logger   *zap.Logger
}

// Launch starts Chrome, or connects to opts.Remote.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	opts.defaults()

	var (
		u   string
		l   *launcher.Launcher
		err error
	)
	if opts.Remote != "" {
		u, err = launcher.ResolveURL(opts.Remote)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve %s: %w", opts.Remote, err)
		}
		opts.Logger.Info("connecting to running chrome", zap.String("url", u))
	} else {
		path := opts.Bin
		if path == "" {
			path, _ = launcher.LookPath()
		}
		l = launcher.New().Context(ctx).Headless(opts.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if path != "" {
			l = l.Bin(path)
		}
		if opts.Profile != "" {
			l = l.UserDataDir(opts.Profile)
		}
		u, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		opts.Logger.Info("launched chrome",
			zap.String("url", u),
			zap.Bool("headless", opts.Headless),
			zap.String("profile", opts.Profile))
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return &Browser{browser: b, launcher: l, opts: opts, logger: opts.Logger}, nil
}

// Open creates a stealth tab on url and waits for it to load.
func (b *Browser) Open(ctx context.Context, url string) (*Page, error) {
	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		b.logger.Warn("set viewport failed", zap.Error(err))
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Warn("wait load timeout", zap.String("url", url), zap.Error(err))
	}
	return NewPage(page, b.logger), nil
}

// Attach returns the first open tab whose URL contains match.
func (b *Browser) Attach(match string) (*Page, error) {
	pages, err := b.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.Contains(info.URL, match) {
			b.logger.Info("attached to tab", zap.String("url", info.URL))
			return NewPage(p, b.logger), nil
		}
	}
	return nil, fmt.Errorf("browser: no tab matches %q", match)
}

// Close shuts down a launched Chrome. A remote Chrome is left running.
func (b *Browser) Close() error {
	if b.launcher == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}
