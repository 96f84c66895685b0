// Package extract is the built-in extraction collaborator: it turns a
// rendered article page into a markdown body whose images are replaced by
// 1-based sequential placeholder markers, plus the asset references
// behind those markers. It prefers semantic landmarks (article, main) and
// falls back to the document body, skipping obvious boilerplate.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fairwaylabs/fairway/acquire"
	"github.com/fairwaylabs/fairway/pipeline"
)

// ErrNoContent is returned when a page yields no usable article text.
var ErrNoContent = errors.New("extract: no article content found")

// Extractor extracts article content from rendered HTML.
type Extractor struct {
	// MinParagraph filters out fragments shorter than this many runes.
	MinParagraph int

	// MinBody is the minimum total text length for a usable article.
	MinBody int
}

// New returns an Extractor with default thresholds.
func New() *Extractor {
	return &Extractor{MinParagraph: 30, MinBody: 200}
}

// Extract implements pipeline.Extractor.
func (e *Extractor) Extract(_ context.Context, pageURL, rawHTML string) (*pipeline.Extraction, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse: %w", err)
	}

	base, _ := url.Parse(pageURL)

	w := &walker{extractor: e, base: base}
	root := findContentRoot(doc)
	w.walk(root)

	body := strings.Join(w.paragraphs, "\n\n")
	if w.textLen < e.MinBody {
		return nil, ErrNoContent
	}

	return &pipeline.Extraction{
		Title:  findTitle(doc),
		Body:   body,
		Assets: w.assets,
	}, nil
}

type walker struct {
	extractor  *Extractor
	base       *url.URL
	paragraphs []string
	assets     []acquire.AssetDescriptor
	textLen    int
}

var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
}

func (w *walker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4:
			if text := collectText(n); text != "" {
				w.paragraphs = append(w.paragraphs, "## "+text)
				w.textLen += len(text)
			}
			return
		case atom.P, atom.Blockquote:
			if text := collectText(n); len([]rune(text)) >= w.extractor.MinParagraph {
				if n.DataAtom == atom.Blockquote {
					text = "> " + text
				}
				w.paragraphs = append(w.paragraphs, text)
				w.textLen += len(text)
			}
			// Images nested in paragraphs still count.
			w.collectImages(n)
			return
		case atom.Img:
			w.addImage(n)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *walker) collectImages(n *html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		w.addImage(n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.collectImages(c)
	}
}

func (w *walker) addImage(n *html.Node) {
	src := attr(n, "src")
	if src == "" {
		src = attr(n, "data-src")
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	resolved := src
	if w.base != nil {
		if u, err := w.base.Parse(src); err == nil {
			resolved = u.String()
		}
	}

	index := len(w.assets) + 1
	caption := sanitizeCaption(attr(n, "alt"))
	w.assets = append(w.assets, acquire.AssetDescriptor{
		Index:     index,
		RemoteURL: resolved,
		Caption:   caption,
	})
	w.paragraphs = append(w.paragraphs, fmt.Sprintf("[IMAGE_%d:%s]", index, caption))
}

// sanitizeCaption keeps captions representable inside a marker: no
// closing brackets, no newlines.
func sanitizeCaption(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "]", ")")
	s = strings.ReplaceAll(s, "[", "(")
	return s
}

func findContentRoot(doc *html.Node) *html.Node {
	if n := findElement(doc, atom.Article); n != nil {
		return n
	}
	if n := findElement(doc, atom.Main); n != nil {
		return n
	}
	if n := findElement(doc, atom.Body); n != nil {
		return n
	}
	return doc
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findTitle(doc *html.Node) string {
	if t := findMetaTitle(doc); t != "" {
		return t
	}
	if n := findElement(doc, atom.Title); n != nil {
		return strings.TrimSpace(collectText(n))
	}
	return ""
}

func findMetaTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
		if attr(n, "property") == "og:title" {
			return strings.TrimSpace(attr(n, "content"))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findMetaTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && skipElements[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
