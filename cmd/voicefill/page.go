package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/v0xg/voicefill/internal/browser"
	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom"
	"github.com/v0xg/voicefill/internal/executor"
)

// openHost launches or attaches to Chrome, opens url (or the first tab of
// a remote Chrome when url is empty) and waits for the host form.
func openHost(ctx context.Context, url string) (*browser.Browser, *browser.Page, error) {
	if url == "" {
		url = cfg.Browser.URL
	}
	if url == "" && cfg.Browser.Remote == "" {
		return nil, nil, errors.New("no page to open: pass --url or set browser.url")
	}

	fmt.Printf("→ Starting Chrome... ")
	b, err := browser.Launch(ctx, browser.Options{
		Remote:   cfg.Browser.Remote,
		Bin:      cfg.Browser.Bin,
		Profile:  cfg.Browser.Profile,
		Headless: cfg.Browser.Headless,
		Logger:   logger,
	})
	if err != nil {
		fmt.Println("failed")
		return nil, nil, err
	}
	fmt.Println("done")

	var page *browser.Page
	if cfg.Browser.Remote != "" {
		page, err = b.Attach(url)
	}
	if page == nil {
		if url == "" {
			_ = b.Close()
			return nil, nil, err
		}
		page, err = b.Open(ctx, url)
	}
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	page.WithAttr(cfg.Scan.Attr)

	fmt.Printf("→ Waiting for the form... ")
	err = browser.WaitForHost(ctx, page, cfg.Scan.Attr, cfg.Detect.MinNodes, cfg.Detect.Attempts, cfg.Detect.Interval)
	if err != nil {
		fmt.Println("failed")
		_ = b.Close()
		return nil, nil, err
	}
	fmt.Println("done")
	return b, page, nil
}

func newScanner(doc dom.Document) *crawler.Scanner {
	return crawler.New(doc, crawler.Options{
		Attr:           cfg.Scan.Attr,
		GenericIDs:     cfg.Scan.GenericIDs,
		Registry:       cfg.Scan.Registry,
		RegisteredOnly: cfg.Scan.RegisteredOnly,
		Logger:         logger,
	})
}

func newManipulator(scanner *crawler.Scanner, onFilled func(string, dom.Node)) *executor.Manipulator {
	return executor.New(scanner, executor.Options{
		RetryDelays:    cfg.Fill.RetryDelays,
		ClickFallbacks: cfg.Fill.ClickFallbacks,
		HighlightFor:   cfg.Fill.Highlight,
		Logger:         logger,
		OnFilled:       onFilled,
	})
}

func newDismisser(doc dom.Document) *executor.Dismisser {
	if !cfg.Dismiss.Enabled {
		return nil
	}
	return executor.NewDismisser(doc, executor.DismissOptions{
		ConfirmText: cfg.Dismiss.ConfirmText,
		Interval:    cfg.Dismiss.Interval,
		Logger:      logger,
	})
}
