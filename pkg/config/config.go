package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	DSN      string         `toml:"dsn"`
	Driver   string         `toml:"driver"`
	Sites    []SiteConfig   `toml:"sites"`
	Crawler  CrawlerConfig  `toml:"crawler"`
	Messages MessagesConfig `toml:"messages"`
	Search   SearchConfig   `toml:"search"`
	Logging  LoggingConfig  `toml:"logging"`
	Web      WebConfig      `toml:"web"`
}

type SiteConfig struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

type CrawlerConfig struct {
	UserAgent      string   `toml:"user_agent"`
	Referrer       string   `toml:"referrer"`
	Timeout        string   `toml:"timeout"`
	Delay          string   `toml:"delay"`
	Parallelism    int      `toml:"parallelism"`
	FileExtensions []string `toml:"file_extensions"`
	SitesFile      string   `toml:"sites_file"`
	SeenStore      string   `toml:"seen_store"`
	RedisAddr      string   `toml:"redis_addr"`
	ShutdownGrace  string   `toml:"shutdown_grace"`
	MaxPathLength  int      `toml:"max_path_length"`
}

// MessagesConfig holds the texts stored as a site's last error.
type MessagesConfig struct {
	Interrupted string `toml:"interrupted"`
	Certificate string `toml:"certificate"`
	Unknown     string `toml:"unknown"`
}

type SearchConfig struct {
	SnippetBorder int `toml:"snippet_border"`
	DefaultLimit  int `toml:"default_limit"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type WebConfig struct {
	Addr string `toml:"addr"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Default() *Config {
	var cfg Config
	cfg.Driver = "postgres"
	cfg.Crawler.UserAgent = "SiteSearchBot/1.0"
	cfg.Crawler.Referrer = "http://www.google.com"
	cfg.Crawler.Timeout = "10s"
	cfg.Crawler.Delay = "500ms"
	cfg.Crawler.Parallelism = 8
	cfg.Crawler.FileExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "pdf", "webp", "svg", "zip", "doc", "docx", "xls", "xlsx", "mp3", "mp4"}
	cfg.Crawler.SeenStore = "memory"
	cfg.Crawler.ShutdownGrace = "10s"
	cfg.Crawler.MaxPathLength = 765
	cfg.Messages.Interrupted = "Indexing stopped by user"
	cfg.Messages.Certificate = "Site certificate error"
	cfg.Messages.Unknown = "Unknown error"
	cfg.Search.SnippetBorder = 40
	cfg.Search.DefaultLimit = 20
	cfg.Logging.Format = "text"
	cfg.Logging.Level = "info"
	cfg.Web.Addr = ":8080"
	return &cfg
}

func (c *CrawlerConfig) GetDelay() time.Duration {
	return parseDuration(c.Delay, 500*time.Millisecond)
}

func (c *CrawlerConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

func (c *CrawlerConfig) GetShutdownGrace() time.Duration {
	return parseDuration(c.ShutdownGrace, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
