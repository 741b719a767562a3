package process

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html>
<head>
	<title>  My
	Page </title>
	<base href="/docs/">
	<style>p { color: red }</style>
</head>
<body>
	<p>Hello <b>world</b></p>
	<script>var hidden = 1;</script>
	<a href="intro">Intro</a>
	<a href="mailto:me@example.com">Mail</a>
	<a href="https://other.com/x">Other</a>
	<a href="">Empty</a>
</body>
</html>`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(samplePage), "https://example.com/index.html")
	require.NoError(t, err)

	assert.Equal(t, "My Page", doc.Title)
	assert.Equal(t, "Hello world Intro Mail Other Empty", doc.Text)
	assert.Equal(t, []string{
		"https://example.com/docs/intro",
		"https://other.com/x",
	}, doc.Links)
}

func TestParseDocumentResolvesAgainstPageURL(t *testing.T) {
	html := `<body><a href="../up">up</a><a href="/root">root</a></body>`

	doc, err := ParseDocument(strings.NewReader(html), "https://example.com/a/b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a/up", "https://example.com/root"}, doc.Links)
}

func TestParseHTMLCollectsNoLinks(t *testing.T) {
	doc, err := ParseHTML(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "My Page", doc.Title)
	assert.Nil(t, doc.Links)
}

func TestExtractTextSkipsHiddenElements(t *testing.T) {
	html := `<div>one<noscript>two</noscript><span>three</span><template>four</template>five</div>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, "one three five", ExtractText(doc.Find("div")))
}
