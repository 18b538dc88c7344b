package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	urlqueue "web_relay/internal/url_queue"

	"golang.org/x/net/html/charset"
)

const (
	MaxHops = 15

	// PartSuffix marks a download in progress; such files are never promoted
	// unless the whole body arrived.
	PartSuffix = ".part"

	chunkSize = 128 * 1024

	defaultMaxPageBytes = 10 * 1024 * 1024
)

var (
	ErrNotHTML      = errors.New("response is not html")
	ErrPageTooLarge = errors.New("page body exceeds size limit")
	// ErrStalled means a download received no bytes for a whole timeout.
	ErrStalled = errors.New("download stalled")
)

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Options configure the fetcher. Timeout bounds a whole page request, but
// for file downloads only the wait for response headers and each gap between
// received bytes, so large files may take as long as they need.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxPageBytes int64
}

type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	timeout      time.Duration
	maxPageBytes int64
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.MaxPageBytes <= 0 {
		opts.MaxPageBytes = defaultMaxPageBytes
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxHops {
					return fmt.Errorf("stopped after %d redirects (MaxHops exceeded)", MaxHops)
				}
				return nil
			},
		},
		userAgent:    opts.UserAgent,
		timeout:      opts.Timeout,
		maxPageBytes: opts.MaxPageBytes,
	}
}

func (f *HTTPFetcher) get(ctx context.Context, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	return f.client.Do(req)
}

// FetchPage returns the page body decoded to UTF-8. Anything other than a
// 200 response with an HTML content type is an error, as is a body larger
// than MaxPageBytes.
func (f *HTTPFetcher) FetchPage(ctx context.Context, urlStr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.get(ctx, urlStr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return "", fmt.Errorf("%s (%q): %w", urlStr, contentType, ErrNotHTML)
	}

	utf8Reader, err := charset.NewReader(resp.Body, contentType)
	if err != nil {
		utf8Reader = resp.Body
	}

	body, err := io.ReadAll(io.LimitReader(utf8Reader, f.maxPageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", urlStr, err)
	}
	if int64(len(body)) > f.maxPageBytes {
		return "", fmt.Errorf("%s: %w (%d bytes)", urlStr, ErrPageTooLarge, f.maxPageBytes)
	}
	return string(body), nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html"
}

// FetchFile downloads urlStr to destPath. An existing non-empty destPath is
// taken as already fetched. The body is written to destPath+PartSuffix and
// renamed into place only after it was fully received.
func (f *HTTPFetcher) FetchFile(ctx context.Context, urlStr, destPath string) error {
	if Exists(destPath) {
		return nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(f.timeout, func() { cancel(ErrStalled) })
	defer watchdog.Stop()

	resp, err := f.get(ctx, urlStr)
	if err != nil {
		return f.stallCause(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: urlStr, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	tmp := destPath + PartSuffix
	body := &idleReader{r: resp.Body, watchdog: watchdog, timeout: f.timeout}
	if err := writeBody(tmp, body); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: %w", urlStr, f.stallCause(ctx, err))
	}

	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("promote %s: %w", destPath, err)
	}
	return nil
}

// idleReader pushes the watchdog back whenever bytes arrive.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	timeout  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.timeout)
	}
	return n, err
}

func (f *HTTPFetcher) stallCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrStalled) {
		return fmt.Errorf("%w: no data for %v", ErrStalled, f.timeout)
	}
	return err
}

func writeBody(tmp string, body io.Reader) error {
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(out, body, buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Exists reports whether path is a regular file with non-zero size.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// ArtifactName derives the local file name from the last URL path segment,
// falling back to the URL fingerprint when there is none.
func ArtifactName(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlqueue.Fingerprint(urlStr)
	}
	name := strings.TrimSpace(path.Base(u.Path))
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `/\`) {
		return urlqueue.Fingerprint(urlStr)
	}
	return name
}

func ArtifactPath(dir, urlStr string) string {
	return filepath.Join(dir, ArtifactName(urlStr))
}
