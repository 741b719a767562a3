package crawler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	frontier "github.com/devraulu/sitesearch/pkg"
	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/index"
	"github.com/devraulu/sitesearch/pkg/metrics"
	"github.com/devraulu/sitesearch/pkg/process"
	"github.com/devraulu/sitesearch/pkg/storage"
)

var (
	ErrAlreadyIndexing  = errors.New("indexing already started")
	ErrNotIndexing      = errors.New("indexing not started")
	ErrPageOutsideSites = errors.New("page is outside of the configured sites")
)

// Service runs whole-site crawls and single-page reindexing.
type Service struct {
	cfg     *config.Config
	sites   []config.SiteConfig
	store   storage.Storage
	fetcher *process.Fetcher

	mu  sync.Mutex
	run *run
}

type Option func(*Service)

func WithFetcher(f *process.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// New builds a Service over the given sites. Site URLs are reduced to their
// home page; sites with an unusable URL are logged and skipped.
func New(cfg *config.Config, sites []config.SiteConfig, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		store: store,
	}

	for _, sc := range sites {
		home, err := process.HomeURL(sc.URL)
		if err != nil {
			slog.Error("skipping site", slog.String("site", sc.URL), slog.Any("err", err))
			continue
		}
		s.sites = append(s.sites, config.SiteConfig{Name: sc.Name, URL: home})
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = process.NewFetcher(cfg.Crawler)
	}
	return s
}

func (s *Service) Sites() []config.SiteConfig {
	return s.sites
}

// run is the state of one crawl run, shared by every visit of every site.
type run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	seen   frontier.Seen
	sem    *semaphore.Weighted
	index  *index.Builder
	done   chan struct{}

	mu      sync.Mutex
	status  map[string]storage.Status
	results []SiteResult
}

func (r *run) setStatus(home string, status storage.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[home] = status
}

func (r *run) isIndexing(home string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[home] == storage.StatusIndexing
}

func (r *run) anyIndexing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.status {
		if st == storage.StatusIndexing {
			return true
		}
	}
	return false
}

func (r *run) addResult(res SiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Start launches a crawl of every site and returns immediately. The run is
// detached from ctx cancellation; use Stop to end it early.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil && !s.run.finished() {
		return ErrAlreadyIndexing
	}

	runID := uuid.NewString()
	seen, err := frontier.NewSeen(s.cfg.Crawler.SeenStore, s.cfg.Crawler.RedisAddr, runID)
	if err != nil {
		return err
	}

	parallelism := s.cfg.Crawler.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:     runID,
		ctx:    runCtx,
		cancel: cancel,
		seen:   seen,
		sem:    semaphore.NewWeighted(int64(parallelism)),
		index:  index.NewBuilder(s.store),
		done:   make(chan struct{}),
		status: make(map[string]storage.Status),
	}
	for _, sc := range s.sites {
		r.status[sc.URL] = storage.StatusIndexing
	}
	s.run = r

	slog.Info("indexing started", slog.String("run", runID), slog.Int("sites", len(s.sites)))
	metrics.IndexingActive.Set(1)

	go func() {
		defer close(r.done)
		defer cancel()

		var g errgroup.Group
		for _, sc := range s.sites {
			sc := sc
			g.Go(func() error {
				r.addResult(s.crawlSite(r, sc))
				return nil
			})
		}
		_ = g.Wait()

		if err := seen.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("couldn't close seen set", slog.String("run", runID), slog.Any("err", err))
		}
		metrics.IndexingActive.Set(0)
		slog.Info("indexing finished", slog.String("run", runID))
	}()

	return nil
}

// Stop cancels the current run and waits up to the configured grace period
// for its sites to settle.
func (s *Service) Stop() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil || r.finished() {
		return ErrNotIndexing
	}

	slog.Info("stopping indexing", slog.String("run", r.id))
	r.cancel()

	grace := s.cfg.Crawler.GetShutdownGrace()
	select {
	case <-r.done:
	case <-time.After(grace):
		slog.Warn("indexing did not stop in time", slog.String("run", r.id), slog.Duration("grace", grace))
	}
	return nil
}

// IsIndexing is true while at least one site of the current run is still
// being indexed.
func (s *Service) IsIndexing() bool {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	return r != nil && !r.finished() && r.anyIndexing()
}

// Wait blocks until the current run, if any, has finished and returns its
// per-site results.
func (s *Service) Wait() []SiteResult {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return nil
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SiteResult(nil), r.results...)
}

// activeRun returns the current run while it is still indexing the site
// with the given home URL.
func (s *Service) activeRun(home string) *run {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil || r.finished() || !r.isIndexing(home) {
		return nil
	}
	return r
}

// siteFor returns the configured site a canonical link belongs to.
func (s *Service) siteFor(link string) (config.SiteConfig, bool) {
	for _, sc := range s.sites {
		if strings.HasPrefix(link, sc.URL) {
			return sc, true
		}
	}
	return config.SiteConfig{}, false
}

// errorMessage turns a site-fatal error into the text stored on the site.
func (s *Service) errorMessage(kind process.Kind, err error) string {
	msgs := s.cfg.Messages
	switch kind {
	case process.KindInterrupted:
		return msgs.Interrupted
	case process.KindCertificate:
		return msgs.Certificate
	default:
		return msgs.Unknown + " (" + err.Error() + ")"
	}
}
