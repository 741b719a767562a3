// Package search ranks indexed pages against a free-text query.
//
// For every site in scope the rarest query lemma picks the candidate pages.
// A candidate's absolute score is the sum of the weights of every query
// lemma it is indexed under; relevance is that score divided by the best
// score across all sites.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/lemma"
	"github.com/devraulu/sitesearch/pkg/metrics"
	"github.com/devraulu/sitesearch/pkg/process"
	"github.com/devraulu/sitesearch/pkg/storage"
)

var (
	ErrEmptyQuery     = errors.New("query is empty")
	ErrSiteNotIndexed = errors.New("site is not found or not indexed")
)

type Store interface {
	FindSiteByURL(ctx context.Context, url string) (*storage.Site, error)
	ListSites(ctx context.Context) ([]storage.Site, error)
	FindLemmas(ctx context.Context, siteID int64, names []string) ([]storage.Lemma, error)
	FindEntriesByLemma(ctx context.Context, lemmaID int64) ([]storage.IndexEntry, error)
	FindEntriesByLemmaForPages(ctx context.Context, lemmaID int64, pageIDs []int64) ([]storage.IndexEntry, error)
	GetPage(ctx context.Context, id int64) (*storage.Page, error)
}

type Query struct {
	Text   string
	Site   string
	Offset int
	Limit  int
}

type Result struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

type Response struct {
	Count   int      `json:"count"`
	Results []Result `json:"data"`
}

type Engine struct {
	store        Store
	border       int
	defaultLimit int
}

func NewEngine(store Store, cfg config.SearchConfig) *Engine {
	e := &Engine{
		store:        store,
		border:       cfg.SnippetBorder,
		defaultLimit: cfg.DefaultLimit,
	}
	if e.border <= 0 {
		e.border = 40
	}
	if e.defaultLimit <= 0 {
		e.defaultLimit = 20
	}
	return e
}

type candidate struct {
	site     storage.Site
	pageID   int64
	absolute float64
	rarest   string
	lemmas   []string
}

func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	names := lemma.ExtractDistinct(q.Text).Slice()
	sort.Strings(names)
	surfaces := lemma.Surfaces(q.Text)

	sites, err := e.scope(ctx, q.Site)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, site := range sites {
		found, err := e.rank(ctx, site, names)
		if err != nil {
			return nil, fmt.Errorf("rank %s: %w", site.URL, err)
		}
		candidates = append(candidates, found...)
	}

	var best float64
	for _, c := range candidates {
		best = max(best, c.absolute)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.absolute != b.absolute {
			return a.absolute > b.absolute
		}
		if a.site.ID != b.site.ID {
			return a.site.ID < b.site.ID
		}
		return a.pageID < b.pageID
	})

	offset, limit := max(q.Offset, 0), q.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}

	resp := &Response{Count: len(candidates), Results: []Result{}}
	for _, c := range candidates {
		if len(resp.Results) == limit {
			break
		}

		res, ok, err := e.render(ctx, c, surfaces)
		if err != nil {
			return nil, err
		}
		if !ok {
			resp.Count--
			continue
		}
		if offset > 0 {
			offset--
			continue
		}

		res.Relevance = c.absolute / best
		resp.Results = append(resp.Results, res)
	}

	slog.Debug("search complete",
		slog.String("query", q.Text),
		slog.String("site", q.Site),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(resp.Results)),
	)
	return resp, nil
}

// scope returns the sites a query runs against: the named site, which must
// be indexed, or every indexed site.
func (e *Engine) scope(ctx context.Context, siteURL string) ([]storage.Site, error) {
	if strings.TrimSpace(siteURL) != "" {
		home, err := process.HomeURL(siteURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSiteNotIndexed, err)
		}

		site, err := e.store.FindSiteByURL(ctx, home)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSiteNotIndexed
		}
		if err != nil {
			return nil, err
		}
		if site.Status != storage.StatusIndexed {
			return nil, ErrSiteNotIndexed
		}
		return []storage.Site{*site}, nil
	}

	all, err := e.store.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	var sites []storage.Site
	for _, s := range all {
		if s.Status == storage.StatusIndexed {
			sites = append(sites, s)
		}
	}
	return sites, nil
}

// rank scores the pages of one site that carry the site's rarest query
// lemma.
func (e *Engine) rank(ctx context.Context, site storage.Site, names []string) ([]candidate, error) {
	lemmas, err := e.store.FindLemmas(ctx, site.ID, names)
	if err != nil {
		return nil, err
	}
	if len(lemmas) == 0 {
		return nil, nil
	}

	rarest := lemmas[0]
	for _, l := range lemmas[1:] {
		if l.Frequency < rarest.Frequency || l.Frequency == rarest.Frequency && l.Lemma < rarest.Lemma {
			rarest = l
		}
	}

	entries, err := e.store.FindEntriesByLemma(ctx, rarest.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	pageIDs := make([]int64, 0, len(entries))
	for _, en := range entries {
		pageIDs = append(pageIDs, en.PageID)
	}

	scores := make(map[int64]float64, len(pageIDs))
	present := make([]string, 0, len(lemmas))
	for _, l := range lemmas {
		present = append(present, l.Lemma)

		found, err := e.store.FindEntriesByLemmaForPages(ctx, l.ID, pageIDs)
		if err != nil {
			return nil, err
		}
		for _, en := range found {
			scores[en.PageID] += en.Weight
		}
	}
	sort.Strings(present)

	out := make([]candidate, 0, len(pageIDs))
	for _, id := range pageIDs {
		out = append(out, candidate{
			site:     site,
			pageID:   id,
			absolute: scores[id],
			rarest:   rarest.Lemma,
			lemmas:   present,
		})
	}
	return out, nil
}

func (e *Engine) render(ctx context.Context, c candidate, surfaces map[string][]string) (Result, bool, error) {
	page, err := e.store.GetPage(ctx, c.pageID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	doc, err := process.ParseHTML(page.Content)
	if err != nil {
		return Result{}, false, fmt.Errorf("parse page %d: %w", page.ID, err)
	}

	terms := append([]string{c.rarest}, surfaces[c.rarest]...)
	var highlight []string
	for _, name := range c.lemmas {
		highlight = append(highlight, name)
		highlight = append(highlight, surfaces[name]...)
	}

	snippet, ok := Snippet(doc.Text, terms, highlight, e.border)
	if !ok {
		slog.Debug("no snippet for page", slog.Int64("page_id", page.ID), slog.String("lemma", c.rarest))
		return Result{}, false, nil
	}

	return Result{
		Site:     strings.TrimSuffix(c.site.URL, "/"),
		SiteName: c.site.Name,
		URI:      page.Path,
		Title:    doc.Title,
		Snippet:  snippet,
	}, true, nil
}
