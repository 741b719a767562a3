package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusIndexing Status = "INDEXING"
	StatusIndexed  Status = "INDEXED"
	StatusFailed   Status = "FAILED"
)

type Site struct {
	ID         int64
	URL        string
	Name       string
	Status     Status
	StatusTime time.Time
	LastError  string
}

type Page struct {
	ID      int64
	SiteID  int64
	Path    string
	Code    int
	Content string
}

type Lemma struct {
	ID        int64
	SiteID    int64
	Lemma     string
	Frequency int
}

// IndexEntry links a page to a lemma. Lemma carries the normal form so that
// entries can be written before the lemma row IDs are known.
type IndexEntry struct {
	ID      int64
	PageID  int64
	LemmaID int64
	Lemma   string
	Weight  float64
}

type SiteStore interface {
	SaveSite(ctx context.Context, s *Site) error
	FindSiteByURL(ctx context.Context, url string) (*Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	DeleteSiteByURL(ctx context.Context, url string) error
	SiteExistsWithStatus(ctx context.Context, status Status) (bool, error)
}

type PageStore interface {
	CreatePage(ctx context.Context, p *Page) error
	FindPage(ctx context.Context, siteID int64, path string) (*Page, error)
	GetPage(ctx context.Context, id int64) (*Page, error)
	DeletePage(ctx context.Context, id int64) error
	// RemovePage deletes the page and reduces the named lemmas atomically.
	RemovePage(ctx context.Context, siteID, pageID int64, names []string) error
	CountPages(ctx context.Context, siteID int64) (int, error)
}

type LemmaStore interface {
	// SaveLemmas inserts lemmas or adds their frequency to existing rows.
	SaveLemmas(ctx context.Context, siteID int64, lemmas []Lemma) error
	FindLemmas(ctx context.Context, siteID int64, names []string) ([]Lemma, error)
	FindLemmasAcrossSites(ctx context.Context, names []string) ([]Lemma, error)
	DecrementFrequencies(ctx context.Context, siteID int64, names []string) error
	DeleteUnusedLemmas(ctx context.Context, siteID int64) (int64, error)
	// ReduceFrequencies decrements and prunes in one transaction.
	ReduceFrequencies(ctx context.Context, siteID int64, names []string) error
	CountLemmas(ctx context.Context, siteID int64) (int, error)
}

type IndexStore interface {
	CreateIndexEntries(ctx context.Context, siteID int64, entries []IndexEntry) error
	FindEntriesByLemma(ctx context.Context, lemmaID int64) ([]IndexEntry, error)
	FindEntriesByLemmaForPages(ctx context.Context, lemmaID int64, pageIDs []int64) ([]IndexEntry, error)
	FindEntriesByPage(ctx context.Context, pageID int64) ([]IndexEntry, error)
	// CommitIndex writes lemmas and then entries atomically.
	CommitIndex(ctx context.Context, siteID int64, lemmas []Lemma, entries []IndexEntry) error
}

type Storage interface {
	SiteStore
	PageStore
	LemmaStore
	IndexStore
	Close() error
}
