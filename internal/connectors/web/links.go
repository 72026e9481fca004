package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// linkExtractor enumerates the anchors of one HTML page with colly. Every visit
// builds its own collector so concurrent tasks never share a transport.
type linkExtractor struct {
	transport   http.RoundTripper
	userAgent   string
	timeout     time.Duration
	maxBodySize int
}

// visit calls emit with each absolute link on pageURL in document order. emit
// returns false to stop; remaining anchors are skipped.
func (l *linkExtractor) visit(ctx context.Context, pageURL string, emit func(string) bool) error {
	collector := colly.NewCollector(
		colly.UserAgent(l.userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(l.maxBodySize),
	)
	collector.SetRequestTimeout(l.timeout)
	collector.WithTransport(&contextTransport{ctx: ctx, base: l.transport})

	stopped := false
	var statusErr error
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if stopped {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if !emit(link) {
			stopped = true
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			statusErr = statusError("list links", r.StatusCode)
		}
	})

	err := collector.Visit(pageURL)
	if statusErr != nil {
		return statusErr
	}
	var visited *colly.AlreadyVisitedError
	if err != nil && !errors.As(err, &visited) {
		return classifyTransport("list links", err)
	}
	return nil
}
