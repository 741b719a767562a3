package process

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Document struct {
	Title string
	Text  string
	Links []string
}

// ParseDocument reads an HTML page. Links are resolved against baseURL (or
// the page's <base href>); with an empty baseURL no links are collected.
func ParseDocument(body io.Reader, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	result := &Document{
		Title: extractTitle(doc),
		Text:  ExtractText(doc.Find("body")),
	}

	if baseURL == "" {
		return result, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	if newBaseStr, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if newBase, err := base.Parse(strings.TrimSpace(newBaseStr)); err == nil {
			base = newBase
		}
	}

	result.Links = extractAndResolve(doc, base)
	return result, nil
}

func ParseHTML(html string) (*Document, error) {
	return ParseDocument(strings.NewReader(html), "")
}

func extractAndResolve(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("body a[href]").Each(func(_ int, s *goquery.Selection) {
		val := strings.TrimSpace(s.AttrOr("href", ""))
		if val == "" {
			return
		}

		if resolved := resolve(val, base); resolved != "" {
			links = append(links, resolved)
		}
	})
	return links
}

func resolve(ref string, base *url.URL) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	abs := base.ResolveReference(u)

	scheme := strings.ToLower(abs.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	return abs.String()
}

func extractTitle(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
