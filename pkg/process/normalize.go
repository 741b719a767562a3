package process

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
)

var (
	ErrInvalidURL  = errors.New("invalid url")
	ErrPathTooLong = errors.New("page path too long")
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments

func Normalize(url string) (string, error) {
	return purell.NormalizeURLString(url, normalizeFlags)
}

// HomeURL reduces any URL of a site to its home page: scheme, host without
// "www." and a trailing slash.
func HomeURL(raw string) (string, error) {
	normalized, err := Normalize(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	return u.Scheme + "://" + strings.TrimPrefix(u.Host, "www.") + "/", nil
}

// CanonicalLink is the form used as the seen-set key: normalized, without
// "www." and always ending in a slash.
func CanonicalLink(raw string) (string, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "\u00a0", "")
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}

	normalized = strings.Replace(normalized, "//www.", "//", 1)
	if !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	return normalized, nil
}

// PagePath returns the site-relative path stored for a canonical link.
func PagePath(home, link string, maxLen int) (string, error) {
	if !strings.HasPrefix(link, home) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidURL, link, home)
	}

	path := "/" + strings.TrimPrefix(link, home)
	if path != "/" && strings.HasSuffix(path, "/") {
		trimmed := strings.TrimSuffix(path, "/")
		if strings.Contains(trimmed[strings.LastIndex(trimmed, "/")+1:], ".") {
			path = trimmed
		}
	}

	if maxLen > 0 && len(path) > maxLen {
		return "", fmt.Errorf("%w: %d", ErrPathTooLong, len(path))
	}
	return path, nil
}

// PageURL joins a home URL and a stored page path.
func PageURL(home, path string) string {
	return strings.TrimSuffix(home, "/") + path
}

type LinkFilter struct {
	home       string
	extensions *regexp.Regexp
}

func NewLinkFilter(home string, extensions []string) *LinkFilter {
	f := &LinkFilter{home: home}

	quoted := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			quoted = append(quoted, regexp.QuoteMeta(ext))
		}
	}
	if len(quoted) > 0 {
		f.extensions = regexp.MustCompile(`(?i)\.(` + strings.Join(quoted, "|") + `)/?$`)
	}
	return f
}

// Canonical returns the canonical form of an absolute link and whether the
// crawler may follow it: same site, not the home page, no fragment, query or
// quote characters and no excluded file extension.
func (f *LinkFilter) Canonical(raw string) (string, bool) {
	if strings.ContainsAny(raw, "#?\"@\\") {
		return "", false
	}

	link, err := CanonicalLink(raw)
	if err != nil {
		return "", false
	}

	if !strings.HasPrefix(link, f.home) || link == f.home {
		return "", false
	}
	if f.extensions != nil && f.extensions.MatchString(link) {
		return "", false
	}
	return link, true
}
