package stats

import (
	"context"
	"errors"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/storage"
)

type Store interface {
	FindSiteByURL(ctx context.Context, url string) (*storage.Site, error)
	CountPages(ctx context.Context, siteID int64) (int, error)
	CountLemmas(ctx context.Context, siteID int64) (int, error)
}

type Total struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

type Detailed struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	StatusTime int64  `json:"statusTime"`
	Error      string `json:"error,omitempty"`
	Pages      int    `json:"pages"`
	Lemmas     int    `json:"lemmas"`
}

type Statistics struct {
	Total    Total      `json:"total"`
	Detailed []Detailed `json:"detailed"`
}

// Collect reports the stored state of every configured site. Sites that
// were never crawled are listed without a status.
func Collect(ctx context.Context, store Store, sites []config.SiteConfig, indexing bool) (*Statistics, error) {
	out := &Statistics{
		Total:    Total{Sites: len(sites), Indexing: indexing},
		Detailed: make([]Detailed, 0, len(sites)),
	}

	for _, sc := range sites {
		d := Detailed{URL: sc.URL, Name: sc.Name}

		site, err := store.FindSiteByURL(ctx, sc.URL)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			out.Detailed = append(out.Detailed, d)
			continue
		case err != nil:
			return nil, err
		}

		d.Status = string(site.Status)
		d.StatusTime = site.StatusTime.UnixMilli()
		d.Error = site.LastError

		if d.Pages, err = store.CountPages(ctx, site.ID); err != nil {
			return nil, err
		}
		if d.Lemmas, err = store.CountLemmas(ctx, site.ID); err != nil {
			return nil, err
		}

		out.Total.Pages += d.Pages
		out.Total.Lemmas += d.Lemmas
		out.Detailed = append(out.Detailed, d)
	}

	return out, nil
}
