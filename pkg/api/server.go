package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/crawler"
	"github.com/devraulu/sitesearch/pkg/search"
	"github.com/devraulu/sitesearch/pkg/stats"
)

type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
	IsIndexing() bool
	IndexPage(ctx context.Context, url string) error
	Sites() []config.SiteConfig
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

type Server struct {
	indexer  Indexer
	searcher Searcher
	store    stats.Store
}

func NewServer(indexer Indexer, searcher Searcher, store stats.Store) *Server {
	return &Server{
		indexer:  indexer,
		searcher: searcher,
		store:    store,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Observe)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/statistics", s.handleStatistics)
		r.Get("/startIndexing", s.handleStartIndexing)
		r.Get("/stopIndexing", s.handleStopIndexing)
		r.Post("/indexPage", s.handleIndexPage)
		r.Get("/search", s.handleSearch)
	})

	return r
}

type envelope struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

type statisticsResponse struct {
	envelope
	Statistics *stats.Statistics `json:"statistics"`
}

type searchResponse struct {
	envelope
	Count int             `json:"count"`
	Data  []search.Result `json:"data"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := stats.Collect(r.Context(), s.store, s.indexer.Sites(), s.indexer.IsIndexing())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statisticsResponse{envelope{Result: true}, st})
}

func (s *Server) handleStartIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Start(r.Context()); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) handleStopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Stop(); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) handleIndexPage(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.FormValue("url"))
	if url == "" {
		respondWithJSON(w, http.StatusBadRequest, envelope{Error: "url is required"})
		return
	}

	if err := s.indexer.IndexPage(r.Context(), url); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.Query{
		Text:   q.Get("query"),
		Site:   q.Get("site"),
		Offset: intParam(q.Get("offset")),
		Limit:  intParam(q.Get("limit")),
	}

	resp, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, searchResponse{
		envelope: envelope{Result: true},
		Count:    resp.Count,
		Data:     resp.Results,
	})
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrAlreadyIndexing),
		errors.Is(err, crawler.ErrNotIndexing),
		errors.Is(err, crawler.ErrPageOutsideSites),
		errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrSiteNotIndexed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	respondWithJSON(w, code, envelope{Error: err.Error()})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("couldn't encode response", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
