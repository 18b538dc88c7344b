package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"web_relay/internal/app"
	"web_relay/internal/config"
	"web_relay/internal/fetcher"
	"web_relay/internal/ledger"
	"web_relay/internal/logger"
	"web_relay/internal/models"
	urlqueue "web_relay/internal/url_queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCrawler struct {
	mu    sync.Mutex
	files map[string][]string
	calls int
}

func (c *fakeCrawler) Crawl(_ context.Context, start models.StartPoint, _ int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.files[start.Host]
}

// fakeFetcher behaves like the HTTP fetcher on disk: an existing artifact is
// reused, otherwise the URL is "downloaded" into destPath.
type fakeFetcher struct {
	mu        sync.Mutex
	downloads map[string]int
	fail      map[string]bool
}

func (f *fakeFetcher) FetchFile(_ context.Context, url, destPath string) error {
	if fetcher.Exists(destPath) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[url] {
		return errors.New("HTTP 500")
	}
	if f.downloads == nil {
		f.downloads = make(map[string]int)
	}
	f.downloads[url]++
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(url), 0o644)
}

type fakeDeliverer struct {
	delivered []string
	fail      map[string]bool
}

func (d *fakeDeliverer) Deliver(_ context.Context, path string) (models.SendMode, error) {
	name := filepath.Base(path)
	if d.fail[name] {
		return models.SendModeDocument, errors.New("chat not found")
	}
	d.delivered = append(d.delivered, name)
	return models.SendModeDocument, nil
}

type brokenLedger struct {
	ledger.Ledger
}

func (brokenLedger) Add(context.Context, models.DeliveryRecord) error {
	return errors.New("disk full")
}

type harness struct {
	cfg       *config.RelayConfig
	crawler   *fakeCrawler
	fetcher   *fakeFetcher
	deliverer *fakeDeliverer
	ledger    ledger.Ledger
}

func newHarness(t *testing.T, files map[string][]string, startURLs ...string) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Crawl.StartURLs = startURLs
	cfg.Storage.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Ledger.Path = filepath.Join(dir, "sent_files.json")

	sent, err := ledger.OpenJSONStore(cfg.Ledger.Path, logger.NewNop())
	require.NoError(t, err)

	return &harness{
		cfg:       &cfg,
		crawler:   &fakeCrawler{files: files},
		fetcher:   &fakeFetcher{fail: map[string]bool{}},
		deliverer: &fakeDeliverer{fail: map[string]bool{}},
		ledger:    sent,
	}
}

func (h *harness) app(t *testing.T) *app.RelayApp {
	t.Helper()
	return h.appWithLogger(t, logger.NewNop())
}

func (h *harness) appWithLogger(t *testing.T, log logger.Interface) *app.RelayApp {
	t.Helper()
	relay, err := app.New(h.cfg, app.Deps{
		Crawler:   h.crawler,
		Fetcher:   h.fetcher,
		Deliverer: h.deliverer,
		Ledger:    h.ledger,
	}, log)
	require.NoError(t, err)
	return relay
}

func TestRunOnceIsIdempotent(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"h": {"http://h/a.pdf", "http://h/b.mp4"},
	}, "http://h/index.html")
	relay := h.app(t)
	ctx := context.Background()

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 2, report.Candidates)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, []string{"a.pdf", "b.mp4"}, h.deliverer.delivered)

	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)
	assert.Equal(t, 2, report.AlreadyDelivered)
	assert.Equal(t, []string{"a.pdf", "b.mp4"}, h.deliverer.delivered)

	reloaded, err := ledger.OpenJSONStore(h.cfg.Ledger.Path, logger.NewNop())
	require.NoError(t, err)
	assert.True(t, reloaded.Contains(urlqueue.Fingerprint("http://h/a.pdf")))
	assert.True(t, reloaded.Contains(urlqueue.Fingerprint("http://h/b.mp4")))
}

func TestRunOnceRetriesFailedDeliveryNextCycle(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"h": {"http://h/a.pdf", "http://h/b.mp4"},
	}, "http://h/")
	h.deliverer.fail["b.mp4"] = true
	relay := h.app(t)
	ctx := context.Background()

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.DeliveryFailures)
	assert.False(t, h.ledger.Contains(urlqueue.Fingerprint("http://h/b.mp4")))

	h.deliverer.fail["b.mp4"] = false
	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.True(t, h.ledger.Contains(urlqueue.Fingerprint("http://h/b.mp4")))

	// The artifact from the first cycle is reused, not downloaded again.
	assert.Equal(t, 1, h.fetcher.downloads["http://h/b.mp4"])
}

func TestRunOnceSkipsFailedDownload(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"h": {"http://h/a.pdf", "http://h/b.mp4"},
	}, "http://h/")
	h.fetcher.fail["http://h/a.pdf"] = true
	relay := h.app(t)

	report, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FetchFailures)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, []string{"b.mp4"}, h.deliverer.delivered)
	assert.False(t, h.ledger.Contains(urlqueue.Fingerprint("http://h/a.pdf")))
}

func TestRunOnceLedgerFailureAbortsCycle(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"h": {"http://h/a.pdf", "http://h/b.mp4"},
	}, "http://h/")
	h.ledger = brokenLedger{Ledger: h.ledger}
	relay := h.app(t)

	report, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, report.Delivered)
	assert.Equal(t, []string{"a.pdf"}, h.deliverer.delivered)
}

func TestRunOnceSitesInOrderAndSharedFilesOnce(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"one.example": {"http://one.example/x.pdf", "http://cdn.example/shared.mp4"},
		"two.example": {"http://cdn.example/shared.mp4", "http://two.example/y.pdf"},
	}, "http://one.example/", "http://two.example/")
	relay := h.app(t)

	report, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sites)
	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, 1, report.AlreadyDelivered)
	assert.Equal(t, []string{"x.pdf", "shared.mp4", "y.pdf"}, h.deliverer.delivered)
}

func TestRunOncePrefetchKeepsDeliveryOrder(t *testing.T) {
	files := []string{
		"http://h/1.pdf", "http://h/2.pdf", "http://h/3.mp4",
		"http://h/4.pdf", "http://h/5.mp4", "http://h/other/1.pdf",
	}
	h := newHarness(t, map[string][]string{"h": files}, "http://h/")
	h.cfg.Crawl.FetchConcurrency = 3
	relay := h.app(t)

	report, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Delivered)
	assert.Equal(t, []string{"1.pdf", "2.pdf", "3.mp4", "4.pdf", "5.mp4", "1.pdf"}, h.deliverer.delivered)
	assert.Equal(t, 1, h.fetcher.downloads["http://h/1.pdf"])
	assert.Equal(t, 0, h.fetcher.downloads["http://h/other/1.pdf"])
}

func TestRunOnceCancelled(t *testing.T) {
	h := newHarness(t, map[string][]string{"h": {"http://h/a.pdf"}}, "http://h/")
	relay := h.app(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sites)
	assert.Empty(t, h.deliverer.delivered)
}

func TestRunReturnsAfterOneCycleWhenRunOnce(t *testing.T) {
	h := newHarness(t, map[string][]string{"h": {"http://h/a.pdf"}}, "http://h/")
	h.cfg.Schedule.RunOnce = true
	relay := h.app(t)

	require.NoError(t, relay.Run(context.Background()))
	assert.Equal(t, 1, h.crawler.calls)
	assert.Equal(t, []string{"a.pdf"}, h.deliverer.delivered)
	require.NoError(t, relay.Close(context.Background()))
}

func TestRunStopsDuringSleep(t *testing.T) {
	h := newHarness(t, map[string][]string{"h": {"http://h/a.pdf"}}, "http://h/")
	h.cfg.Schedule.PollInterval = config.DurationFrom(time.Hour)
	relay := h.app(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, 1, h.crawler.calls)
}

func TestNewRejectsBadStartURL(t *testing.T) {
	cfg := config.Default()
	cfg.Crawl.StartURLs = []string{"http://h/%zz"}
	_, err := app.New(&cfg, app.Deps{}, logger.NewNop())
	require.Error(t, err)
}

func TestRunOnceWarnsOnSharedLocalName(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"h": {"http://h/2023/report.pdf", "http://h/2024/report.pdf"},
	}, "http://h/")
	core, logs := observer.New(zapcore.WarnLevel)
	relay := h.appWithLogger(t, logger.NewFromZap(zap.New(core)))

	report, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, h.fetcher.downloads["http://h/2023/report.pdf"])
	assert.Equal(t, 0, h.fetcher.downloads["http://h/2024/report.pdf"])

	warned := logs.FilterMessageSnippet("local file name shared").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "http://h/2024/report.pdf", warned[0].ContextMap()["url"])
}
