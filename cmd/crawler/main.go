package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	frontier "github.com/devraulu/sitesearch/pkg"
	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/crawler"
	"github.com/devraulu/sitesearch/pkg/logger"
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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		slog.Error("fatal: couldn't open database", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	svc := crawler.New(cfg, sites, store)
	if err := svc.Start(ctx); err != nil {
		slog.Error("fatal: couldn't start indexing", slog.Any("err", err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	var results []crawler.SiteResult

	appSignal := make(chan os.Signal, 1)
	signal.Notify(appSignal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results = svc.Wait()
		stop()
	}()

	select {
	case s := <-appSignal:
		slog.Info("received system signal", slog.String("signal", s.String()))
		if err := svc.Stop(); err != nil {
			slog.Warn("couldn't stop indexing", slog.Any("err", err))
		}
	case <-ctx.Done():
		slog.Info("indexing done, stopping")
	}

	wg.Wait()

	failed := 0
	for _, res := range results {
		attrs := []any{
			slog.String("site", res.URL),
			slog.String("status", string(res.Status)),
			slog.Int64("pages", res.Pages),
			slog.Int64("skipped", res.Skipped),
			slog.Duration("duration", res.Duration),
		}
		if res.Error != "" {
			failed++
			attrs = append(attrs, slog.String("error", res.Error))
		}
		slog.Info("site result", attrs...)
	}

	slog.Info("shutdown complete", slog.Int("sites", len(results)), slog.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}
