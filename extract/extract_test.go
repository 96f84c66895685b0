package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html>
<head>
<title>Fallback Title | Site Name</title>
<meta property="og:title" content="Final Round Recap">
</head>
<body>
<nav><a href="/">Home</a><a href="/news">News</a></nav>
<article>
<h1>Final Round Recap</h1>
<p>The final round opened under heavy wind, and the leaders traded birdies through the front nine before the field tightened considerably.</p>
<figure><img src="/media/hero.jpg" alt="Leader lines up a putt"><figcaption>ignored</figcaption></figure>
<p>By the turn the margin was a single stroke, and the gallery followed every approach shot with growing anticipation of a playoff.</p>
<img data-src="https://cdn.example.com/shot.jpg" alt="Approach [18th]">
<p>short</p>
<blockquote>It was the hardest Sunday pin sheet I have seen all year, and every player in the last three groups knew it.</blockquote>
</article>
<footer>Copyright</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	e := New()
	out, err := e.Extract(context.Background(), "https://example.com/news/final-round", samplePage)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if out.Title != "Final Round Recap" {
		t.Errorf("title: %q", out.Title)
	}

	if len(out.Assets) != 2 {
		t.Fatalf("assets: %+v", out.Assets)
	}
	// Relative src resolves against the page URL.
	if out.Assets[0].RemoteURL != "https://example.com/media/hero.jpg" {
		t.Errorf("first asset url: %q", out.Assets[0].RemoteURL)
	}
	if out.Assets[0].Index != 1 || out.Assets[1].Index != 2 {
		t.Errorf("indices: %d, %d", out.Assets[0].Index, out.Assets[1].Index)
	}
	// data-src is honored; caption brackets are sanitized.
	if out.Assets[1].RemoteURL != "https://cdn.example.com/shot.jpg" {
		t.Errorf("second asset url: %q", out.Assets[1].RemoteURL)
	}
	if out.Assets[1].Caption != "Approach (18th)" {
		t.Errorf("caption: %q", out.Assets[1].Caption)
	}

	if !strings.Contains(out.Body, "[IMAGE_1:Leader lines up a putt]") {
		t.Errorf("first marker missing:\n%s", out.Body)
	}
	if !strings.Contains(out.Body, "[IMAGE_2:Approach (18th)]") {
		t.Errorf("second marker missing:\n%s", out.Body)
	}

	// Boilerplate and short fragments are dropped.
	if strings.Contains(out.Body, "Home") || strings.Contains(out.Body, "Copyright") {
		t.Errorf("boilerplate leaked:\n%s", out.Body)
	}
	if strings.Contains(out.Body, "short") {
		t.Errorf("short fragment kept:\n%s", out.Body)
	}
	if !strings.Contains(out.Body, "> It was the hardest Sunday pin sheet") {
		t.Errorf("blockquote missing:\n%s", out.Body)
	}
}

func TestExtractTitleFallback(t *testing.T) {
	page := `<html><head><title>Plain Title</title></head><body><article><p>` +
		strings.Repeat("Long enough paragraph text to pass the body threshold. ", 10) +
		`</p></article></body></html>`
	out, err := New().Extract(context.Background(), "https://example.com/a", page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.Title != "Plain Title" {
		t.Errorf("title: %q", out.Title)
	}
}

func TestExtractNoContent(t *testing.T) {
	_, err := New().Extract(context.Background(), "https://example.com/a",
		`<html><body><nav>menu</nav></body></html>`)
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("want ErrNoContent, got %v", err)
	}
}
