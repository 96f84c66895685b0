package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Page is one rendered document page. It stays open for the duration of a
// single document's processing so in-page asset fetches inherit the
// page's referrer and cookie state.
type Page struct {
	page    *rod.Page
	pageURL string
	manager *Manager
}

// OpenPage creates a stealth tab, navigates to the URL, and waits for
// load. The caller must Close the page when the document is done.
func OpenPage(ctx context.Context, mgr *Manager, pageURL string) (*Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Page{page: page, pageURL: pageURL, manager: mgr}, nil
}

// URL returns the page's document URL.
func (p *Page) URL() string { return p.pageURL }

// HTML serialises the rendered DOM as outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// FetchAsset retrieves a URL from inside the page's JS context, carrying
// the page's referrer and cookies. Bytes come back base64-encoded because
// CDP Eval results are JSON.
func (p *Page) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	res, err := p.page.Context(ctx).Eval(`async (url) => {
		const resp = await fetch(url, { credentials: "include" });
		if (!resp.ok) {
			throw new Error("status " + resp.status);
		}
		const buf = await resp.arrayBuffer();
		const bytes = new Uint8Array(buf);
		let bin = "";
		const chunk = 0x8000;
		for (let i = 0; i < bytes.length; i += chunk) {
			bin += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
		}
		return btoa(bin);
	}`, assetURL)
	if err != nil {
		return nil, fmt.Errorf("browser: page fetch %s: %w", assetURL, err)
	}

	data, err := base64.StdEncoding.DecodeString(res.Value.Str())
	if err != nil {
		return nil, fmt.Errorf("browser: decode page fetch result: %w", err)
	}
	return data, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}
