package app

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"web_relay/internal/config"
	"web_relay/internal/crawler"
	"web_relay/internal/delivery"
	"web_relay/internal/extract"
	"web_relay/internal/fetcher"
	"web_relay/internal/ledger"
	"web_relay/internal/logger"
	"web_relay/internal/models"
	urlqueue "web_relay/internal/url_queue"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type SiteCrawler interface {
	Crawl(ctx context.Context, start models.StartPoint, maxPages int) []string
}

type FileFetcher interface {
	FetchFile(ctx context.Context, url, destPath string) error
}

type Deliverer interface {
	Deliver(ctx context.Context, path string) (models.SendMode, error)
}

// Deps are the collaborators of one relay.
type Deps struct {
	Crawler   SiteCrawler
	Fetcher   FileFetcher
	Deliverer Deliverer
	Ledger    ledger.Ledger
}

type RelayApp struct {
	config *config.RelayConfig
	deps   Deps
	starts []models.StartPoint
	log    logger.Interface
}

func New(cfg *config.RelayConfig, deps Deps, log logger.Interface) (*RelayApp, error) {
	starts := make([]models.StartPoint, 0, len(cfg.Crawl.StartURLs))
	for _, raw := range cfg.Crawl.StartURLs {
		start, err := models.NewStartPoint(raw)
		if err != nil {
			return nil, fmt.Errorf("start url %q: %w", raw, err)
		}
		starts = append(starts, start)
	}

	return &RelayApp{
		config: cfg,
		deps:   deps,
		starts: starts,
		log:    log,
	}, nil
}

// NewRelayApp wires the HTTP fetcher, the crawler, the configured ledger and
// the Telegram transport. The ledger is opened first so a bad token does not
// leave a dangling database connection behind.
func NewRelayApp(ctx context.Context, cfg *config.RelayConfig, log logger.Interface) (*RelayApp, error) {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.Crawl.RequestTimeout.Duration,
	})
	siteCrawler := crawler.New(httpFetcher, extract.NewExtractor(cfg.Crawl.WantedSuffixes), log)

	sent, err := ledger.Open(ctx, cfg.Ledger, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	transport, err := delivery.NewTelegramTransport(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint)
	if err != nil {
		_ = sent.Close(ctx)
		return nil, err
	}
	log.Info("telegram bot authorised", "bot", transport.BotName())

	return New(cfg, Deps{
		Crawler:   siteCrawler,
		Fetcher:   httpFetcher,
		Deliverer: delivery.NewClient(transport, cfg.Telegram.ChatID, cfg.Crawl.VideoSuffixes, log),
		Ledger:    sent,
	}, log)
}

// Run repeats RunOnce every poll interval until ctx is cancelled or a signal
// arrives. With run_once set it returns after the first cycle.
func (a *RelayApp) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("relay started",
		"sites", len(a.starts),
		"download_dir", a.config.Storage.DownloadDir,
		"poll_interval", a.config.Schedule.PollInterval.Duration,
		"delivered_so_far", a.deps.Ledger.Len(),
	)

	for {
		if _, err := a.RunOnce(ctx); err != nil {
			return err
		}
		if a.config.Schedule.RunOnce {
			return nil
		}

		timer := time.NewTimer(a.config.Schedule.PollInterval.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.log.Info("shutting down")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs one crawl-and-deliver cycle over every start point in
// configured order. Fetch and delivery failures are counted and skipped; the
// resource is retried next cycle. A ledger write failure aborts the cycle.
// Cancellation stops the cycle between resources and is not an error.
func (a *RelayApp) RunOnce(ctx context.Context) (models.CycleReport, error) {
	report := models.CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}
	log := a.log.With("cycle", report.ID)
	log.Info("cycle started", "sites", len(a.starts))

	// Local paths taken this cycle, by fingerprint.
	claimed := make(map[string]string)

	for _, start := range a.starts {
		if ctx.Err() != nil {
			break
		}
		report.Sites++

		files := a.deps.Crawler.Crawl(ctx, start, a.config.Crawl.MaxPagesPerSite)
		report.Candidates += len(files)

		pending := a.pending(start, files, &report)
		log.Info("site crawled", "start_url", start.URL, "files", len(files), "new", len(pending))

		prefetched := a.prefetch(ctx, pending)
		for _, res := range pending {
			if ctx.Err() != nil {
				break
			}
			if err := a.relay(ctx, res, prefetched, claimed, &report, log); err != nil {
				report.Duration = time.Since(report.StartedAt)
				return report, err
			}
		}
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info("cycle finished",
		"delivered", report.Delivered,
		"skipped", report.AlreadyDelivered,
		"fetch_failures", report.FetchFailures,
		"delivery_failures", report.DeliveryFailures,
		"duration", report.Duration,
	)
	return report, nil
}

func (a *RelayApp) pending(start models.StartPoint, files []string, report *models.CycleReport) []models.FileResource {
	var out []models.FileResource
	for _, u := range files {
		fp := urlqueue.Fingerprint(u)
		if a.deps.Ledger.Contains(fp) {
			report.AlreadyDelivered++
			continue
		}
		out = append(out, models.FileResource{URL: u, Fingerprint: fp, Source: start.Host})
	}
	return out
}

func (a *RelayApp) artifactPath(res models.FileResource) string {
	return fetcher.ArtifactPath(a.config.Storage.DownloadDir, res.URL)
}

// prefetch downloads pending resources in parallel when fetch_concurrency
// allows it. The result maps fingerprints to their fetch error; resources not
// in the map are fetched inline by relay. Only the first resource per local
// path is prefetched so two downloads never share a .part file.
func (a *RelayApp) prefetch(ctx context.Context, pending []models.FileResource) map[string]error {
	limit := a.config.Crawl.FetchConcurrency
	if limit <= 1 || len(pending) < 2 {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(pending))
		paths   = make(map[string]bool, len(pending))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, res := range pending {
		res := res
		dest := a.artifactPath(res)
		if paths[dest] {
			continue
		}
		paths[dest] = true

		g.Go(func() error {
			err := a.deps.Fetcher.FetchFile(gctx, res.URL, dest)
			mu.Lock()
			results[res.Fingerprint] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *RelayApp) relay(ctx context.Context, res models.FileResource, prefetched map[string]error, claimed map[string]string, report *models.CycleReport, log logger.Interface) error {
	dest := a.artifactPath(res)
	if prev, ok := claimed[dest]; ok && prev != res.Fingerprint {
		log.Warn("local file name shared with another url, sending the existing file",
			"url", res.URL, "file", filepath.Base(dest))
	}
	claimed[dest] = res.Fingerprint

	err, done := prefetched[res.Fingerprint]
	if !done {
		err = a.deps.Fetcher.FetchFile(ctx, res.URL, dest)
	}
	if err != nil {
		report.FetchFailures++
		log.Warn("download failed", "url", res.URL, "error", err)
		return nil
	}
	report.Fetched++

	mode, err := a.deps.Deliverer.Deliver(ctx, dest)
	if err != nil {
		report.DeliveryFailures++
		log.Error("delivery failed", "url", res.URL, "error", err)
		return nil
	}

	record := models.DeliveryRecord{
		Fingerprint: res.Fingerprint,
		URL:         res.URL,
		FileName:    filepath.Base(dest),
		Source:      res.Source,
		Mode:        mode,
		DeliveredAt: time.Now().UTC(),
	}
	// The file is already out; record it even if shutdown began meanwhile.
	if err := a.deps.Ledger.Add(context.WithoutCancel(ctx), record); err != nil {
		return fmt.Errorf("persist ledger after delivering %s: %w", res.URL, err)
	}

	report.Delivered++
	log.Info("file relayed", "url", res.URL, "file", record.FileName, "mode", string(mode))
	return nil
}

func (a *RelayApp) Close(ctx context.Context) error {
	return a.deps.Ledger.Close(ctx)
}
