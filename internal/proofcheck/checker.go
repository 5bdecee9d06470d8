// Package proofcheck fetches dispute proof URLs and records whether the
// page is still reachable. Disputes are resolved off-platform; the check
// only preserves evidence that the link worked and what it pointed at when
// the dispute was opened.
package proofcheck

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type Result struct {
	Alive bool
	Title string
}

type Checker struct {
	httpClient *http.Client
	log        *zap.Logger
	maxRetries int
}

func NewChecker(timeoutMS, maxRetries int, log *zap.Logger) *Checker {
	return &Checker{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log:        log,
		maxRetries: maxRetries,
	}
}

// Check fetches the URL and extracts the page title. A 404 or 410 is a
// definitive dead link, not an error; transport failures retry with a
// linear backoff and give up after maxRetries.
func (c *Checker) Check(ctx context.Context, url string) (Result, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Result{}, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			resp.Body.Close()
			return Result{Alive: false}, nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			// Reachable but not HTML; the link still counts as alive.
			return Result{Alive: true}, nil
		}

		title := strings.TrimSpace(doc.Find("title").First().Text())
		if title == "" {
			title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
		if len(title) > 200 {
			title = title[:200]
		}
		return Result{Alive: true, Title: title}, nil
	}

	return Result{}, lastErr
}
