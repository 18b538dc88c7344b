// Package extract classifies the links of one HTML page into wanted file
// resources and pages worth traversing.
package extract

import (
	"io"
	"net/url"
	"strings"

	urlqueue "web_relay/internal/url_queue"

	"github.com/PuerkitoBio/goquery"
)

// linkSelector covers every tag that can point at a media or document file.
const linkSelector = "a[href], source[src], video[src]"

type Links struct {
	Files []string
	Pages []string
}

type Extractor struct {
	suffixes []string
}

// NewExtractor takes lowercase suffixes including the leading dot.
func NewExtractor(wantedSuffixes []string) *Extractor {
	suffixes := make([]string, 0, len(wantedSuffixes))
	for _, s := range wantedSuffixes {
		suffixes = append(suffixes, strings.ToLower(s))
	}
	return &Extractor{suffixes: suffixes}
}

func Parse(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// Extract resolves every href/src against pageURL. Hosts are not checked
// here: files on other hosts are still collected, and the crawler decides
// which pages stay in scope.
func (e *Extractor) Extract(doc *goquery.Document, pageURL *url.URL) Links {
	var links Links

	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		isAnchor := goquery.NodeName(s) == "a"

		attr := "src"
		if isAnchor {
			attr = "href"
		}
		raw, ok := s.Attr(attr)
		if !ok {
			return
		}
		abs, ok := Resolve(pageURL, raw)
		if !ok {
			return
		}

		if e.IsWanted(abs) {
			links.Files = append(links.Files, abs.String())
		}
		if isAnchor {
			links.Pages = append(links.Pages, abs.String())
		}
	})

	return links
}

// ExtractHTML parses raw markup and extracts its links.
func (e *Extractor) ExtractHTML(rawHTML string, pageURL *url.URL) (Links, error) {
	doc, err := Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Links{}, err
	}
	return e.Extract(doc, pageURL), nil
}

// IsWanted reports whether the lowercased URL path ends with a wanted suffix.
func (e *Extractor) IsWanted(u *url.URL) bool {
	return HasSuffix(u.Path, e.suffixes)
}

func (e *Extractor) IsWantedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return e.IsWanted(u)
}

func HasSuffix(path string, suffixes []string) bool {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Resolve turns an attribute value into an absolute http(s) URL without
// fragment. Empty, malformed and non-http values are rejected.
func Resolve(base *url.URL, raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	if abs.Host == "" {
		return nil, false
	}
	normalized, err := url.Parse(urlqueue.NormalizeURL(abs.String()))
	if err != nil {
		return nil, false
	}
	return normalized, true
}
