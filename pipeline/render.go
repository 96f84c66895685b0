package pipeline

import (
	"context"

	"github.com/fairwaylabs/fairway/browser"
)

// BrowserRenderer renders pages through the managed Chrome session.
type BrowserRenderer struct {
	mgr *browser.Manager
}

// NewBrowserRenderer wraps a browser manager as a Renderer.
func NewBrowserRenderer(mgr *browser.Manager) *BrowserRenderer {
	return &BrowserRenderer{mgr: mgr}
}

func (r *BrowserRenderer) Render(ctx context.Context, pageURL string) (Session, error) {
	return browser.OpenPage(ctx, r.mgr, pageURL)
}
