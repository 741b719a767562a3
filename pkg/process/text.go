package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ExtractText returns the visible text under the selection with whitespace
// collapsed. Adjacent text nodes are always separated by a space.
func ExtractText(sel *goquery.Selection) string {
	var sb strings.Builder
	for _, n := range sel.Nodes {
		extractTextNodes(n, &sb)
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

func extractTextNodes(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "template":
			return
		}
	}

	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTextNodes(c, sb)
	}
}
