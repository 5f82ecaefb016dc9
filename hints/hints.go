// Package hints emits <link rel="preload"> markup for images.
//
// Hints are the declarative counterpart of the script-driven Preloader:
// the browser starts fetching hinted images while it parses the page head.
//
//	var buf bytes.Buffer
//	_ = hints.Render(&buf, []string{"https://cdn.example/hero.jpg"}, hints.Options{})
//	// <link rel="preload" href="https://cdn.example/hero.jpg" as="image" crossorigin="anonymous"/>
package hints

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Options controls hint output.
type Options struct {
	// Debug wraps the tags in HTML comments naming the image count.
	Debug bool
}

// Tag builds the preload link node for url.
func Tag(url string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "link",
		DataAtom: atom.Link,
		Attr: []html.Attribute{
			{Key: "rel", Val: "preload"},
			{Key: "href", Val: url},
			{Key: "as", Val: "image"},
			{Key: "crossorigin", Val: "anonymous"},
		},
	}
}

// Render writes one preload link per URL, each on its own line.
//
// Empty URLs are skipped and attribute values are escaped. Nothing is
// written when no URL remains.
func Render(w io.Writer, urls []string, opts Options) error {
	urls = nonEmpty(urls)
	if len(urls) == 0 {
		return nil
	}

	if opts.Debug {
		if err := renderComment(w, fmt.Sprintf(" Image Preloading: Link preload headers for %d images ", len(urls))); err != nil {
			return err
		}
	}

	for _, u := range urls {
		if err := html.Render(w, Tag(u)); err != nil {
			return fmt.Errorf("render hint for %q: %w", u, err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	if opts.Debug {
		return renderComment(w, " End Image Preloading link preload headers ")
	}
	return nil
}

// Inject reads an HTML document from r, prepends preload links to its head
// and writes the document to w.
//
// URLs that already have an image preload link in the document are skipped,
// so injecting the same list twice does not duplicate tags. Returns the
// number of links added.
func Inject(r io.Reader, w io.Writer, urls []string, opts Options) (int, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return 0, fmt.Errorf("parse document: %w", err)
	}

	existing := make(map[string]struct{})
	doc.Find(`link[rel="preload"][as="image"]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			existing[href] = struct{}{}
		}
	})

	var pending []string
	for _, u := range nonEmpty(urls) {
		if _, ok := existing[u]; ok {
			continue
		}
		existing[u] = struct{}{}
		pending = append(pending, u)
	}

	if len(pending) > 0 {
		var buf bytes.Buffer
		if err := Render(&buf, pending, opts); err != nil {
			return 0, err
		}
		doc.Find("head").First().PrependHtml(buf.String())
	}

	out, err := doc.Html()
	if err != nil {
		return 0, fmt.Errorf("render document: %w", err)
	}
	if _, err := io.WriteString(w, out); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func renderComment(w io.Writer, text string) error {
	if err := html.Render(w, &html.Node{Type: html.CommentNode, Data: text}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func nonEmpty(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}
