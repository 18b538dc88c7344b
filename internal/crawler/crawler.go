package crawler

import (
	"context"
	"net/url"

	"web_relay/internal/extract"
	"web_relay/internal/logger"
	"web_relay/internal/models"
	urlqueue "web_relay/internal/url_queue"
)

type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

type Crawler struct {
	fetcher   PageFetcher
	extractor *extract.Extractor
	log       logger.Interface
}

func New(fetcher PageFetcher, extractor *extract.Extractor, log logger.Interface) *Crawler {
	return &Crawler{fetcher: fetcher, extractor: extractor, log: log}
}

// Crawl walks the start point's host breadth-first and returns the wanted
// file URLs in discovery order without duplicates. Pages that fail to load
// contribute nothing; the walk stops when the queue drains, maxPages distinct
// pages were visited, or ctx is done.
func (c *Crawler) Crawl(ctx context.Context, start models.StartPoint, maxPages int) []string {
	log := c.log.With("start_url", start.URL)
	queue := urlqueue.NewURLQueue(start.Host, maxPages)
	queue.Add(start.URL)

	var found []string
	for !queue.Exhausted() {
		if ctx.Err() != nil {
			log.Warn("crawl interrupted", "error", ctx.Err(), "pages", queue.Visited())
			break
		}

		pageURL, _ := queue.Get()
		if !queue.MarkSeen(pageURL) {
			continue
		}

		body, err := c.fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			log.Warn("fetch failed", "url", pageURL, "error", err)
			continue
		}
		if body == "" {
			continue
		}

		base, err := url.Parse(pageURL)
		if err != nil {
			continue
		}
		links, err := c.extractor.ExtractHTML(body, base)
		if err != nil {
			log.Warn("parse failed", "url", pageURL, "error", err)
			continue
		}

		found = append(found, links.Files...)
		for _, next := range links.Pages {
			// Anchors to wanted files are downloads, not pages.
			if c.extractor.IsWantedURL(next) || !urlqueue.SameHost(next, start.Host) {
				continue
			}
			queue.Add(next)
		}
	}

	files := urlqueue.Dedupe(found)
	log.Debug("crawl finished", "pages", queue.Visited(), "files", len(files))
	return files
}
