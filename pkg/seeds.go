package frontier

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/devraulu/sitesearch/pkg/config"
	"github.com/devraulu/sitesearch/pkg/process"
)

var (
	ErrNoSites = errors.New("no sites configured")
)

// LoadSites reads a sites file: one site per line, its URL optionally
// followed by a display name. Blank lines and lines starting with # are
// ignored.
func LoadSites(path string) ([]config.SiteConfig, error) {
	slog.Info("loading sites", "path", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadSites(file)
}

func ReadSites(r io.Reader) ([]config.SiteConfig, error) {
	var sites []config.SiteConfig

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		raw, name, _ := strings.Cut(line, " ")
		home, err := process.HomeURL(raw)
		if err != nil {
			slog.Error("couldn't normalize site", slog.String("site", raw), slog.Any("err", err))
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			u, _ := url.Parse(home)
			name = u.Host
		}
		sites = append(sites, config.SiteConfig{Name: name, URL: home})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slog.Info("loaded sites", "count", len(sites))
	return sites, nil
}

// MergeSites appends extra to configured, skipping sites whose home URL is
// already present. The home URL of every returned site is normalized.
func MergeSites(configured, extra []config.SiteConfig) ([]config.SiteConfig, error) {
	seen := make(map[string]bool)
	var out []config.SiteConfig

	for _, s := range append(append([]config.SiteConfig{}, configured...), extra...) {
		home, err := process.HomeURL(s.URL)
		if err != nil {
			slog.Error("skipping site", slog.String("site", s.URL), slog.Any("err", err))
			continue
		}
		if seen[home] {
			continue
		}
		seen[home] = true
		out = append(out, config.SiteConfig{Name: s.Name, URL: home})
	}

	if len(out) == 0 {
		return nil, ErrNoSites
	}
	return out, nil
}
