// Package index accumulates lemmas and index entries while a site is being
// crawled and flushes them to storage in a single batch.
//
// A lemma's frequency is the number of pages of the site that contain it; an
// entry's weight is the number of occurrences of the lemma on one page.
package index

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/devraulu/sitesearch/pkg/metrics"
	"github.com/devraulu/sitesearch/pkg/storage"
)

// Store is the part of storage the builder writes to.
type Store interface {
	CommitIndex(ctx context.Context, siteID int64, lemmas []storage.Lemma, entries []storage.IndexEntry) error
}

type siteIndex struct {
	lemmas  map[string]int
	entries []storage.IndexEntry
	// pages taken back out with ForgetPage; later records are ignored
	forgotten map[int64]bool
}

// Builder holds the per-site accumulators of one crawl run. RecordPage may be
// called from many goroutines; Commit and Discard must happen after every
// writer of that site has returned.
type Builder struct {
	store Store

	// held for the whole of a Commit
	commitMu sync.Mutex

	mu    sync.Mutex
	sites map[int64]*siteIndex
}

func NewBuilder(store Store) *Builder {
	return &Builder{
		store: store,
		sites: make(map[int64]*siteIndex),
	}
}

func (b *Builder) site(siteID int64) *siteIndex {
	si, ok := b.sites[siteID]
	if !ok {
		si = &siteIndex{lemmas: make(map[string]int), forgotten: make(map[int64]bool)}
		b.sites[siteID] = si
	}
	return si
}

// Reset clears anything accumulated for the site.
func (b *Builder) Reset(siteID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sites, siteID)
}

// RecordPage adds one page's lemma occurrence counts to the site's
// accumulators.
func (b *Builder) RecordPage(siteID, pageID int64, counts map[string]int) {
	if len(counts) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	si := b.site(siteID)
	if si.forgotten[pageID] {
		return
	}
	for lemma, n := range counts {
		si.lemmas[lemma]++
		si.entries = append(si.entries, storage.IndexEntry{
			PageID: pageID,
			Lemma:  lemma,
			Weight: float64(n),
		})
	}
}

// ForgetPage takes a page back out of the site's accumulators: its entries
// are dropped and each of its lemmas counts one page less. Records for the
// page that arrive afterwards are ignored. It returns the lemmas the page
// had been recorded under.
func (b *Builder) ForgetPage(siteID, pageID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	si := b.site(siteID)
	si.forgotten[pageID] = true

	var names []string
	kept := make([]storage.IndexEntry, 0, len(si.entries))
	for _, e := range si.entries {
		if e.PageID != pageID {
			kept = append(kept, e)
			continue
		}
		names = append(names, e.Lemma)
		si.lemmas[e.Lemma]--
		if si.lemmas[e.Lemma] < 1 {
			delete(si.lemmas, e.Lemma)
		}
	}
	si.entries = kept

	sort.Strings(names)
	return names
}

// Pending reports how many lemmas and entries are waiting for the site.
func (b *Builder) Pending(siteID int64) (lemmas, entries int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	si, ok := b.sites[siteID]
	if !ok {
		return 0, 0
	}
	return len(si.lemmas), len(si.entries)
}

// Exclusive runs fn while no Commit is in progress.
func (b *Builder) Exclusive(fn func() error) error {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()
	return fn()
}

// Commit persists the site's lemmas, then its entries, and clears the
// accumulators. On error nothing is written and the accumulators are kept.
func (b *Builder) Commit(ctx context.Context, siteID int64) error {
	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	b.mu.Lock()
	si, ok := b.sites[siteID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	lemmas := make([]storage.Lemma, 0, len(si.lemmas))
	for name, freq := range si.lemmas {
		lemmas = append(lemmas, storage.Lemma{SiteID: siteID, Lemma: name, Frequency: freq})
	}
	entries := append([]storage.IndexEntry(nil), si.entries...)
	b.mu.Unlock()

	sort.Slice(lemmas, func(i, j int) bool { return lemmas[i].Lemma < lemmas[j].Lemma })

	if err := b.store.CommitIndex(ctx, siteID, lemmas, entries); err != nil {
		metrics.IndexCommits.WithLabelValues("error").Inc()
		return err
	}
	metrics.IndexCommits.WithLabelValues("ok").Inc()

	slog.Info("index committed",
		slog.Int64("site_id", siteID),
		slog.Int("lemmas", len(lemmas)),
		slog.Int("entries", len(entries)),
	)

	b.Reset(siteID)
	return nil
}

// Discard drops the site's accumulators without writing them.
func (b *Builder) Discard(siteID int64) {
	lemmas, entries := b.Pending(siteID)
	b.Reset(siteID)

	metrics.IndexCommits.WithLabelValues("discarded").Inc()
	slog.Info("index discarded",
		slog.Int64("site_id", siteID),
		slog.Int("lemmas", lemmas),
		slog.Int("entries", entries),
	)
}
