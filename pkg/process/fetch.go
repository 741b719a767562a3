package process

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/devraulu/sitesearch/pkg/config"
)

const (
	maxRedirects = 10
	maxBodyBytes = 10 << 20
)

// Kind classifies fetch failures. The crawler decides from the kind alone
// whether a failure is swallowed or fails the whole site.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedContent
	KindConnectionRefused
	KindTimeout
	KindCertificate
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedContent:
		return "unsupported content"
	case KindConnectionRefused:
		return "connection refused"
	case KindTimeout:
		return "timeout"
	case KindCertificate:
		return "certificate"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

func (k Kind) Transient() bool {
	switch k {
	case KindUnsupportedContent, KindConnectionRefused, KindTimeout:
		return true
	}
	return false
}

type FetchError struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalidCert x509.CertificateInvalidError
		hostErr     x509.HostnameError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &invalidCert) || errors.As(err, &hostErr) {
		return KindCertificate
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	return KindUnknown
}

type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	referrer  string
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = client }
}

func NewFetcher(cfg config.CrawlerConfig, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		userAgent: cfg.UserAgent,
		referrer:  cfg.Referrer,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout: cfg.GetTimeout(),
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if f.client.CheckRedirect == nil {
		f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}
	return f
}

// Fetch performs a single GET. Non-200 responses are not errors: they come
// back with an empty body so the caller can persist the status code.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindUnknown, URL: url, Err: err}
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", f.userAgent)
	if f.referrer != "" {
		req.Header.Set("Referer", f.referrer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: Classify(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	res := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return res, nil
	}

	if !validateHTMLContentTypeHeader(resp, "text/html") {
		return nil, &FetchError{
			Kind: KindUnsupportedContent,
			URL:  url,
			Err:  fmt.Errorf("content type %q", res.ContentType),
		}
	}

	reader, err := charset.NewReader(resp.Body, res.ContentType)
	if err != nil {
		reader = resp.Body
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: Classify(err), URL: url, Err: err}
	}

	res.Body = string(body)
	return res, nil
}

func validateHTMLContentTypeHeader(resp *http.Response, contentType string) bool {
	header := resp.Header.Get("Content-Type")

	return strings.Contains(strings.ToLower(header), contentType)
}
