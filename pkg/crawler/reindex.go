package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devraulu/sitesearch/pkg/index"
	"github.com/devraulu/sitesearch/pkg/lemma"
	"github.com/devraulu/sitesearch/pkg/process"
	"github.com/devraulu/sitesearch/pkg/storage"
)

// IndexPage fetches a single page of a configured site and replaces its
// stored copy and index entries. It does not wait for, or block, a running
// crawl: while the site is being crawled, the old copy is also taken out of
// the crawl's accumulators and the site keeps its INDEXING status.
func (s *Service) IndexPage(ctx context.Context, rawURL string) error {
	link, err := process.CanonicalLink(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPageOutsideSites, err)
	}

	sc, ok := s.siteFor(link)
	if !ok {
		return ErrPageOutsideSites
	}

	log := slog.With(slog.String("site", sc.URL), slog.String("url", link))

	path, err := process.PagePath(sc.URL, link, s.cfg.Crawler.MaxPathLength)
	if err != nil {
		return err
	}

	site, err := s.store.FindSiteByURL(ctx, sc.URL)
	if errors.Is(err, storage.ErrNotFound) {
		site = &storage.Site{
			URL:        sc.URL,
			Name:       sc.Name,
			Status:     storage.StatusIndexing,
			StatusTime: time.Now(),
		}
		err = s.store.SaveSite(ctx, site)
	}
	if err != nil {
		return fmt.Errorf("site %s: %w", sc.URL, err)
	}

	resp, err := s.fetchPage(ctx, sc.URL, link)
	if err != nil {
		return err
	}

	r := s.activeRun(sc.URL)
	if err := s.removePage(ctx, r, site.ID, path); err != nil {
		return err
	}

	page := &storage.Page{
		SiteID:  site.ID,
		Path:    path,
		Code:    resp.StatusCode,
		Content: resp.Body,
	}
	if err := s.store.CreatePage(ctx, page); err != nil {
		return fmt.Errorf("save page %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusOK {
		doc, err := process.ParseHTML(resp.Body)
		if err != nil {
			return fmt.Errorf("parse %s: %w", link, err)
		}

		b := index.NewBuilder(s.store)
		b.RecordPage(site.ID, page.ID, lemma.ExtractPage(doc.Title, doc.Text))
		if err := b.Commit(ctx, site.ID); err != nil {
			return err
		}
	}

	if s.activeRun(sc.URL) != nil {
		log.Info("page reindexed during crawl", slog.String("path", path), slog.Int("code", resp.StatusCode))
		return nil
	}

	site.Status = storage.StatusIndexed
	site.StatusTime = time.Now()
	site.LastError = ""
	if err := s.store.SaveSite(ctx, site); err != nil {
		return err
	}

	log.Info("page reindexed", slog.String("path", path), slog.Int("code", resp.StatusCode))
	return nil
}

// removePage deletes the stored page at path, if any, and takes its lemmas
// out of the site's frequencies. With a run in progress the page is also
// forgotten by the run's accumulators, so its buffered entries are never
// written.
func (s *Service) removePage(ctx context.Context, r *run, siteID int64, path string) error {
	old, err := s.store.FindPage(ctx, siteID, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	remove := func() error {
		var buffered []string
		if r != nil {
			buffered = r.index.ForgetPage(siteID, old.ID)
		}

		entries, err := s.store.FindEntriesByPage(ctx, old.ID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Lemma)
		}

		if err := s.store.RemovePage(ctx, siteID, old.ID, names); err != nil {
			return fmt.Errorf("remove page %s: %w", path, err)
		}

		slog.Debug("old page removed",
			slog.Int64("page_id", old.ID),
			slog.String("path", path),
			slog.Int("stored_lemmas", len(names)),
			slog.Int("buffered_lemmas", len(buffered)),
		)
		return nil
	}

	if r == nil {
		return remove()
	}
	return r.index.Exclusive(remove)
}
