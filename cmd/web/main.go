package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	frontier "github.com/devraulu/sitesearch/pkg"
	"github.com/devraulu/sitesearch/pkg/api"
	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/crawler"
	"github.com/devraulu/sitesearch/pkg/logger"
	"github.com/devraulu/sitesearch/pkg/search"
	"github.com/devraulu/sitesearch/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("fatal: couldn't load config", slog.Any("err", err))
		os.Exit(1)
	}

	logger.InitLogger(cfg)

	var extra []config.SiteConfig
	if cfg.Crawler.SitesFile != "" {
		extra, err = frontier.LoadSites(cfg.Crawler.SitesFile)
		if err != nil {
			slog.Error("fatal: couldn't load sites", slog.Any("err", err))
			os.Exit(1)
		}
	}

	sites, err := frontier.MergeSites(cfg.Sites, extra)
	if err != nil {
		slog.Error("fatal: no sites to index", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		slog.Error("fatal: couldn't open database", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	svc := crawler.New(cfg, sites, store)
	engine := search.NewEngine(store, cfg.Search)

	srv := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           api.NewServer(svc, engine, store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web server", slog.String("addr", srv.Addr), slog.Int("sites", len(sites)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("fatal: web server failed", slog.Any("err", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	}

	if svc.IsIndexing() {
		if err := svc.Stop(); err != nil {
			slog.Warn("couldn't stop indexing", slog.Any("err", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Crawler.GetShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("couldn't shut down web server", slog.Any("err", err))
	}
	slog.Info("shutdown complete")
}
