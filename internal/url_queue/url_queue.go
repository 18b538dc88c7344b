package urlqueue

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
)

// URLQueue is the FIFO frontier of one crawl pass. URLs holds every URL that
// was ever queued, Seen the ones already popped and visited.
type URLQueue struct {
	URLs     map[string]bool
	Seen     map[string]bool
	Queue    []string
	Source   string
	MaxPages int
}

func NewURLQueue(source string, maxPages int) *URLQueue {
	return &URLQueue{
		URLs:     make(map[string]bool),
		Seen:     make(map[string]bool),
		Queue:    make([]string, 0),
		Source:   source,
		MaxPages: maxPages,
	}
}

// Add enqueues a URL unless it was already visited or is still pending.
func (q *URLQueue) Add(urlStr string) bool {
	normalized := NormalizeURL(urlStr)
	if q.Seen[normalized] || q.URLs[normalized] {
		return false
	}
	q.URLs[normalized] = true
	q.Queue = append(q.Queue, normalized)
	return true
}

func (q *URLQueue) Get() (string, bool) {
	if len(q.Queue) == 0 {
		return "", false
	}
	url := q.Queue[0]
	q.Queue = q.Queue[1:]
	delete(q.URLs, url)
	return url, true
}

// MarkSeen records a visit and reports false when the URL was visited before.
func (q *URLQueue) MarkSeen(urlStr string) bool {
	if q.Seen[urlStr] {
		return false
	}
	q.Seen[urlStr] = true
	return true
}

func (q *URLQueue) Size() int {
	return len(q.Queue)
}

func (q *URLQueue) Visited() int {
	return len(q.Seen)
}

// Exhausted reports whether the pass must stop: nothing pending or the page cap reached.
func (q *URLQueue) Exhausted() bool {
	if len(q.Queue) == 0 {
		return true
	}
	return q.MaxPages > 0 && len(q.Seen) >= q.MaxPages
}

// NormalizeURL drops the fragment. Scheme, host and query are kept as-is since
// the host comparison for crawl scope runs on the same string.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String()
}

// Fingerprint is the ledger key of a file URL: hex SHA-1 of the exact URL string.
func Fingerprint(urlStr string) string {
	sum := sha1.Sum([]byte(urlStr))
	return hex.EncodeToString(sum[:])
}

func SameHost(urlStr, host string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// Dedupe removes repeated entries keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
