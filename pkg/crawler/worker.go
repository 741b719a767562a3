package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/lemma"
	"github.com/devraulu/sitesearch/pkg/metrics"
	"github.com/devraulu/sitesearch/pkg/process"
	"github.com/devraulu/sitesearch/pkg/storage"
)

// siteCrawl is one site's part of a run.
type siteCrawl struct {
	svc    *Service
	run    *run
	site   *storage.Site
	home   string
	filter *process.LinkFilter
	log    *slog.Logger
	stats  *CrawlStats
}

func (s *Service) crawlSite(r *run, sc config.SiteConfig) SiteResult {
	log := slog.With(slog.String("site", sc.URL), slog.String("run", r.id))
	stats := &CrawlStats{StartTime: time.Now()}
	bg := context.WithoutCancel(r.ctx)

	site, err := s.resetSite(bg, sc)
	if err != nil {
		log.Error("couldn't reset site", slog.Any("err", err))
		r.setStatus(sc.URL, storage.StatusFailed)
		return SiteResult{URL: sc.URL, Status: storage.StatusFailed, Error: err.Error()}
	}
	r.index.Reset(site.ID)

	c := &siteCrawl{
		svc:    s,
		run:    r,
		site:   site,
		home:   sc.URL,
		filter: process.NewLinkFilter(sc.URL, s.cfg.Crawler.FileExtensions),
		log:    log,
		stats:  stats,
	}

	log.Info("site crawl started", slog.Int64("site_id", site.ID))

	if _, err = r.seen.Visit(r.ctx, sc.URL); err == nil {
		err = c.visit(r.ctx, sc.URL)
	}

	return s.finishSite(bg, c, err)
}

// resetSite replaces any previous row of the site with a fresh INDEXING one.
func (s *Service) resetSite(ctx context.Context, sc config.SiteConfig) (*storage.Site, error) {
	if err := s.store.DeleteSiteByURL(ctx, sc.URL); err != nil {
		return nil, fmt.Errorf("delete site: %w", err)
	}

	site := &storage.Site{
		URL:        sc.URL,
		Name:       sc.Name,
		Status:     storage.StatusIndexing,
		StatusTime: time.Now(),
	}
	if err := s.store.SaveSite(ctx, site); err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}
	return site, nil
}

func (s *Service) finishSite(ctx context.Context, c *siteCrawl, crawlErr error) SiteResult {
	site, r := c.site, c.run

	if crawlErr == nil {
		if err := r.index.Commit(ctx, site.ID); err != nil {
			crawlErr = fmt.Errorf("commit index: %w", err)
			r.index.Discard(site.ID)
		}
	} else {
		kind := process.Classify(crawlErr)
		if r.ctx.Err() != nil {
			kind = process.KindInterrupted
		}

		if kind == process.KindInterrupted {
			// pages saved before the stop keep their entries
			if err := r.index.Commit(ctx, site.ID); err != nil {
				c.log.Error("couldn't commit interrupted site", slog.Any("err", err))
				r.index.Discard(site.ID)
			}
		} else {
			r.index.Discard(site.ID)
		}
		site.LastError = s.errorMessage(kind, crawlErr)
	}

	site.Status = storage.StatusIndexed
	if crawlErr != nil {
		site.Status = storage.StatusFailed
		if site.LastError == "" {
			site.LastError = s.errorMessage(process.KindUnknown, crawlErr)
		}
	}
	site.StatusTime = time.Now()

	if err := s.store.SaveSite(ctx, site); err != nil {
		c.log.Error("couldn't save site status", slog.Any("err", err))
	}
	r.setStatus(c.home, site.Status)

	elapsed := c.stats.Elapsed()
	metrics.SitesFinished.WithLabelValues(string(site.Status)).Inc()
	metrics.CrawlDuration.WithLabelValues(c.home).Observe(elapsed.Seconds())

	attrs := []any{
		slog.String("status", string(site.Status)),
		slog.Int64("processed", c.stats.PagesProcessed.Load()),
		slog.Int64("errored", c.stats.PagesErrored.Load()),
		slog.Int64("skipped", c.stats.PagesSkipped.Load()),
		slog.Duration("elapsed", elapsed),
		slog.Float64("pages_per_sec", c.stats.PagesPerSecond()),
	}
	if crawlErr != nil {
		c.log.Error("site crawl failed", append(attrs, slog.Any("err", crawlErr))...)
	} else {
		c.log.Info("site crawl complete", attrs...)
	}

	return SiteResult{
		URL:      c.home,
		SiteID:   site.ID,
		Status:   site.Status,
		Error:    site.LastError,
		Pages:    c.stats.PagesProcessed.Load(),
		Skipped:  c.stats.PagesSkipped.Load(),
		Duration: elapsed,
	}
}

// visit fetches one page, saves and indexes it, then visits every new link
// it contains and waits for all of them.
func (c *siteCrawl) visit(ctx context.Context, link string) error {
	if err := sleep(ctx, c.svc.cfg.Crawler.GetDelay()); err != nil {
		return &process.FetchError{Kind: process.KindInterrupted, URL: link, Err: err}
	}

	path, err := process.PagePath(c.home, link, c.svc.cfg.Crawler.MaxPathLength)
	if errors.Is(err, process.ErrPathTooLong) {
		c.log.Info("skipping page", slog.String("url", link), slog.Any("err", err))
		c.stats.PagesSkipped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := c.fetch(ctx, link)
	if err != nil {
		kind := process.Classify(err)
		metrics.FetchErrors.WithLabelValues(kind.String()).Inc()
		if kind.Transient() {
			c.log.Info("skipping page", slog.String("url", link), slog.String("kind", kind.String()), slog.Any("err", err))
			c.stats.PagesSkipped.Add(1)
			return nil
		}
		c.stats.PagesErrored.Add(1)
		return err
	}
	metrics.PagesVisited.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()

	if !c.run.isIndexing(c.home) {
		return nil
	}

	page := &storage.Page{
		SiteID:  c.site.ID,
		Path:    path,
		Code:    resp.StatusCode,
		Content: resp.Body,
	}
	record := true
	if err := c.svc.store.CreatePage(ctx, page); err != nil {
		// IndexPage may have stored the path while this request was in flight
		if _, ferr := c.svc.store.FindPage(ctx, c.site.ID, path); ferr != nil {
			c.stats.PagesErrored.Add(1)
			return fmt.Errorf("save page %s: %w", path, err)
		}
		c.log.Info("page already reindexed", slog.String("url", link))
		record = false
	}
	c.stats.PagesProcessed.Add(1)

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("page not ok", slog.String("url", link), slog.Int("code", resp.StatusCode))
		return nil
	}

	doc, err := process.ParseDocument(strings.NewReader(resp.Body), resp.URL)
	if err != nil {
		return fmt.Errorf("parse %s: %w", link, err)
	}
	if record {
		c.run.index.RecordPage(c.site.ID, page.ID, lemma.ExtractPage(doc.Title, doc.Text))
	}

	c.log.Debug("page indexed",
		slog.String("url", link),
		slog.Int("links", len(doc.Links)),
		slog.Int64("processed", c.stats.PagesProcessed.Load()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, raw := range doc.Links {
		next, ok := c.filter.Canonical(raw)
		if !ok {
			continue
		}

		first, err := c.run.seen.Visit(ctx, next)
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		if !first {
			continue
		}
		if !c.run.isIndexing(c.home) {
			break
		}

		g.Go(func() error { return c.visit(gctx, next) })
	}

	return g.Wait()
}

// fetch holds a slot of the run's parallelism budget for the request. A
// non-200 answer to a URL ending in a slash is retried once without it.
func (c *siteCrawl) fetch(ctx context.Context, link string) (*process.Response, error) {
	if err := c.run.sem.Acquire(ctx, 1); err != nil {
		return nil, &process.FetchError{Kind: process.KindInterrupted, URL: link, Err: err}
	}
	defer c.run.sem.Release(1)

	return c.svc.fetchPage(ctx, c.home, link)
}

func (s *Service) fetchPage(ctx context.Context, home, link string) (*process.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && link != home && strings.HasSuffix(link, "/") {
		retry, err := s.fetcher.Fetch(ctx, strings.TrimSuffix(link, "/"))
		if err != nil {
			return nil, err
		}
		resp = retry
	}
	return resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
