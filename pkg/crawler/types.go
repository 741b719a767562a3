package crawler

import (
	"sync/atomic"
	"time"

	"github.com/devraulu/sitesearch/pkg/storage"
)

type CrawlStats struct {
	StartTime      time.Time
	PagesProcessed atomic.Int64
	PagesErrored   atomic.Int64
	PagesSkipped   atomic.Int64
}

func (s *CrawlStats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

func (s *CrawlStats) PagesPerSecond() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(s.PagesProcessed.Load()) / elapsed
}

// SiteResult is the outcome of crawling one site.
type SiteResult struct {
	URL      string
	SiteID   int64
	Status   storage.Status
	Error    string
	Pages    int64
	Skipped  int64
	Duration time.Duration
}
