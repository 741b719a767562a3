package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/lemma"
	"github.com/devraulu/sitesearch/pkg/process"
	"github.com/devraulu/sitesearch/pkg/storage"
)

type testSite struct {
	mu     sync.Mutex
	pages  map[string]string
	hits   map[string]int
	block  chan struct{}
	server *httptest.Server
}

func newTestSite(t *testing.T, pages map[string]string) *testSite {
	t.Helper()

	ts := &testSite{pages: pages, hits: make(map[string]int)}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		body, ok := ts.pages[r.URL.Path]
		block := ts.block
		ts.mu.Unlock()

		if r.URL.Path == "/slow/" && block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}

		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/doc.pdf" {
			w.Header().Set("Content-Type", "application/pdf")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testSite) setPage(path, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pages[path] = body
}

func (ts *testSite) hitsFor(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[path]
}

func html(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func basicPages() map[string]string {
	return map[string]string{
		"/": html("Home", `<p>Cats and dogs live here.</p>
			<a href="/a.html">a</a>
			<a href="/b/">b</a>
			<a href="b/">b again</a>
			<a href="/missing/">missing</a>
			<a href="/img.png">image</a>
			<a href="/a.html#top">fragment</a>
			<a href="/?q=1">query</a>
			<a href="http://other.example/x">outside</a>
			<a href="/doc.pdf.html">doc</a>`),
		"/a.html":       html("Page A", `<p>The target cat sleeps.</p><a href="/">home</a><a href="/b/">b</a>`),
		"/b/":           html("Page B", `<p>Dogs bark at the cat.</p><a href="/a.html">a</a>`),
		"/doc.pdf.html": html("Doc", `<p>paper</p>`),
	}
}

func newTestService(t *testing.T, home string) (*Service, *storage.SQLStorage) {
	t.Helper()

	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Crawler.Delay = "1ms"
	cfg.Crawler.Timeout = "5s"
	cfg.Crawler.ShutdownGrace = "5s"
	cfg.Crawler.Parallelism = 4

	svc := New(cfg, []config.SiteConfig{{Name: "Test", URL: home}}, store)
	return svc, store
}

func crawl(t *testing.T, svc *Service) []SiteResult {
	t.Helper()
	require.NoError(t, svc.Start(context.Background()))
	results := svc.Wait()
	require.Len(t, results, 1)
	return results
}

func assertFrequenciesMatchEntries(t *testing.T, store *storage.SQLStorage) {
	t.Helper()

	rows, err := store.DB().Query(`
		SELECT l.lemma, l.frequency, COUNT(DISTINCT ie.page_id)
		FROM lemmas l LEFT JOIN index_entries ie ON ie.lemma_id = l.id
		GROUP BY l.id, l.lemma, l.frequency`)
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var (
			name       string
			freq, nums int
		)
		require.NoError(t, rows.Scan(&name, &freq, &nums))
		assert.Equal(t, nums, freq, "lemma %q", name)
	}
	require.NoError(t, rows.Err())
}

func TestCrawlIndexesSite(t *testing.T) {
	ts := newTestSite(t, basicPages())
	svc, store := newTestService(t, ts.server.URL)
	ctx := context.Background()

	results := crawl(t, svc)
	assert.Equal(t, storage.StatusIndexed, results[0].Status)
	assert.False(t, svc.IsIndexing())

	home := ts.server.URL + "/"
	site, err := store.FindSiteByURL(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, site.Status)
	assert.Empty(t, site.LastError)

	for _, path := range []string{"/", "/a.html", "/b/", "/doc.pdf.html"} {
		page, err := store.FindPage(ctx, site.ID, path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, page.Code, path)
		assert.NotEmpty(t, page.Content, path)
	}

	missing, err := store.FindPage(ctx, site.ID, "/missing/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Empty(t, missing.Content)
	entries, err := store.FindEntriesByPage(ctx, missing.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pages, err := store.CountPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, pages)

	assert.Zero(t, ts.hitsFor("/img.png"))
	assert.Zero(t, ts.hitsFor("/x"))
	assert.Equal(t, 1, ts.hitsFor("/"))
	assert.Equal(t, 1, ts.hitsFor("/b/"))
	assert.Equal(t, 1, ts.hitsFor("/a.html"))
	assert.Equal(t, 1, ts.hitsFor("/a.html/"))
	assert.Equal(t, 1, ts.hitsFor("/missing"))

	a, err := store.FindPage(ctx, site.ID, "/a.html")
	require.NoError(t, err)
	doc, err := process.ParseHTML(a.Content)
	require.NoError(t, err)
	want := 0
	for _, n := range lemma.ExtractPage(doc.Title, doc.Text) {
		want += n
	}
	entries, err = store.FindEntriesByPage(ctx, a.ID)
	require.NoError(t, err)
	var got float64
	for _, e := range entries {
		got += e.Weight
	}
	assert.InDelta(t, float64(want), got, 1e-9)

	assertFrequenciesMatchEntries(t, store)
}

func TestCrawlSkipsUnsupportedContent(t *testing.T) {
	pages := basicPages()
	pages["/"] = html("Home", `<a href="/doc.pdf">pdf</a><a href="/b/">b</a>`)
	pages["/doc.pdf"] = "%PDF-1.4"

	ts := newTestSite(t, pages)
	svc, store := newTestService(t, ts.server.URL)
	svc.cfg.Crawler.FileExtensions = []string{"png"}

	results := crawl(t, svc)
	assert.Equal(t, storage.StatusIndexed, results[0].Status)

	site, err := store.FindSiteByURL(context.Background(), ts.server.URL+"/")
	require.NoError(t, err)
	_, err = store.FindPage(context.Background(), site.ID, "/doc.pdf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCrawlRecrawlResetsSite(t *testing.T) {
	ts := newTestSite(t, basicPages())
	svc, store := newTestService(t, ts.server.URL)

	crawl(t, svc)
	first, err := store.FindSiteByURL(context.Background(), ts.server.URL+"/")
	require.NoError(t, err)

	crawl(t, svc)
	second, err := store.FindSiteByURL(context.Background(), ts.server.URL+"/")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	n, err := store.CountPages(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assertFrequenciesMatchEntries(t, store)
}

func TestStartAndStopGuards(t *testing.T) {
	pages := basicPages()
	pages["/"] = html("Home", `<p>home words</p><a href="/slow/">slow</a>`)
	pages["/slow/"] = html("Slow", `<p>slow</p>`)

	ts := newTestSite(t, pages)
	ts.mu.Lock()
	ts.block = make(chan struct{})
	ts.mu.Unlock()
	svc, store := newTestService(t, ts.server.URL)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Stop(), ErrNotIndexing)

	require.NoError(t, svc.Start(ctx))
	assert.ErrorIs(t, svc.Start(ctx), ErrAlreadyIndexing)
	assert.True(t, svc.IsIndexing())

	require.Eventually(t, func() bool { return ts.hitsFor("/slow/") > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsIndexing())

	results := svc.Wait()
	require.Len(t, results, 1)
	assert.Equal(t, storage.StatusFailed, results[0].Status)
	assert.Equal(t, svc.cfg.Messages.Interrupted, results[0].Error)

	site, err := store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, site.Status)
	assert.Equal(t, svc.cfg.Messages.Interrupted, site.LastError)

	// the home page was indexed before the stop and keeps its entries
	home, err := store.FindPage(ctx, site.ID, "/")
	require.NoError(t, err)
	entries, err := store.FindEntriesByPage(ctx, home.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	var orphans int
	require.NoError(t, store.DB().QueryRow(`
		SELECT COUNT(*) FROM index_entries ie
		LEFT JOIN lemmas l ON l.id = ie.lemma_id
		WHERE l.id IS NULL`).Scan(&orphans))
	assert.Zero(t, orphans)
	assertFrequenciesMatchEntries(t, store)

	assert.ErrorIs(t, svc.Stop(), ErrNotIndexing)
}

func TestCrawlCertificateFailure(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, html("Secure", "secret"))
	}))
	defer server.Close()

	svc, store := newTestService(t, server.URL)

	results := crawl(t, svc)
	assert.Equal(t, storage.StatusFailed, results[0].Status)
	assert.Equal(t, svc.cfg.Messages.Certificate, results[0].Error)

	site, err := store.FindSiteByURL(context.Background(), server.URL+"/")
	require.NoError(t, err)
	n, err := store.CountLemmas(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestErrorMessage(t *testing.T) {
	svc, _ := newTestService(t, "https://example.com/")

	assert.Equal(t, "Indexing stopped by user", svc.errorMessage(process.KindInterrupted, context.Canceled))
	assert.Equal(t, "Site certificate error", svc.errorMessage(process.KindCertificate, fmt.Errorf("x509")))
	assert.Equal(t, "Unknown error (boom)", svc.errorMessage(process.KindUnknown, fmt.Errorf("boom")))
}

func TestIndexPage(t *testing.T) {
	ts := newTestSite(t, basicPages())
	svc, store := newTestService(t, ts.server.URL)
	ctx := context.Background()

	crawl(t, svc)
	site, err := store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)

	frequencies := func() map[string]int {
		rows, err := store.DB().Query(`SELECT lemma, frequency FROM lemmas WHERE site_id = ?`, site.ID)
		require.NoError(t, err)
		defer rows.Close()
		out := map[string]int{}
		for rows.Next() {
			var name string
			var freq int
			require.NoError(t, rows.Scan(&name, &freq))
			out[name] = freq
		}
		return out
	}

	before := frequencies()

	// unchanged page nets out, however often it is reindexed
	require.NoError(t, svc.IndexPage(ctx, ts.server.URL+"/b/"))
	require.NoError(t, svc.IndexPage(ctx, ts.server.URL+"/b/"))
	assert.Equal(t, before, frequencies())
	assertFrequenciesMatchEntries(t, store)

	ts.setPage("/b/", html("Page B", `<p>Parrots only.</p>`))
	require.NoError(t, svc.IndexPage(ctx, ts.server.URL+"/b/"))

	after := frequencies()
	assert.Equal(t, 1, after[lemma.NormalForm("parrots")])
	assert.Equal(t, before[lemma.NormalForm("dogs")]-1, after[lemma.NormalForm("dogs")])
	assertFrequenciesMatchEntries(t, store)

	site, err = store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, site.Status)
}

func TestIndexPageCreatesSite(t *testing.T) {
	ts := newTestSite(t, basicPages())
	svc, store := newTestService(t, ts.server.URL)
	ctx := context.Background()

	require.NoError(t, svc.IndexPage(ctx, ts.server.URL+"/a.html"))

	site, err := store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, site.Status)

	page, err := store.FindPage(ctx, site.ID, "/a.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.Code)
	assertFrequenciesMatchEntries(t, store)
}

func TestIndexPageOutsideSites(t *testing.T) {
	ts := newTestSite(t, basicPages())
	svc, _ := newTestService(t, ts.server.URL)

	err := svc.IndexPage(context.Background(), "http://other.example/page")
	assert.ErrorIs(t, err, ErrPageOutsideSites)

	err = svc.IndexPage(context.Background(), "::not a url")
	assert.ErrorIs(t, err, ErrPageOutsideSites)
}

func TestIndexPageDuringCrawl(t *testing.T) {
	pages := map[string]string{
		"/":       html("Home", `<p>home cats</p><a href="/a.html">a</a><a href="/slow/">slow</a>`),
		"/a.html": html("Page A", `<p>The cat sleeps.</p>`),
		"/slow/":  html("Slow", `<p>slow</p>`),
	}
	ts := newTestSite(t, pages)
	ts.mu.Lock()
	ts.block = make(chan struct{})
	ts.mu.Unlock()
	svc, store := newTestService(t, ts.server.URL)
	ctx := context.Background()

	entriesOf := func(path string) int {
		doc, err := process.ParseHTML(pages[path])
		require.NoError(t, err)
		return len(lemma.ExtractPage(doc.Title, doc.Text))
	}
	want := entriesOf("/") + entriesOf("/a.html")

	require.NoError(t, svc.Start(ctx))
	svc.mu.Lock()
	r := svc.run
	svc.mu.Unlock()

	require.Eventually(t, func() bool {
		if ts.hitsFor("/slow/") == 0 {
			return false
		}
		site, err := store.FindSiteByURL(ctx, ts.server.URL+"/")
		if err != nil {
			return false
		}
		_, entries := r.index.Pending(site.ID)
		return entries == want
	}, 5*time.Second, 10*time.Millisecond)

	ts.setPage("/a.html", html("Page A", `<p>Parrots only.</p>`))
	require.NoError(t, svc.IndexPage(ctx, ts.server.URL+"/a.html"))

	site, err := store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexing, site.Status)

	ts.mu.Lock()
	close(ts.block)
	ts.mu.Unlock()

	results := svc.Wait()
	require.Len(t, results, 1)
	assert.Equal(t, storage.StatusIndexed, results[0].Status)
	assert.Empty(t, results[0].Error)

	site, err = store.FindSiteByURL(ctx, ts.server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusIndexed, site.Status)

	page, err := store.FindPage(ctx, site.ID, "/a.html")
	require.NoError(t, err)
	entries, err := store.FindEntriesByPage(ctx, page.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Lemma)
	}
	assert.Contains(t, names, lemma.NormalForm("parrots"))
	assert.NotContains(t, names, lemma.NormalForm("cat"))

	cats, err := store.FindLemmas(ctx, site.ID, []string{lemma.NormalForm("cats")})
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, 1, cats[0].Frequency)

	n, err := store.CountPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assertFrequenciesMatchEntries(t, store)
}
