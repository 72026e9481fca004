// Package web implements a repository connector over HTTP sites. HTML pages are
// containers whose children are the links they carry; every page is indexable.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/fingerprint"
	"github.com/JakeFAU/crawlbridge/internal/headless/detector"
	"github.com/JakeFAU/crawlbridge/internal/policy/ratelimit"
)

const defaultUserAgent = "crawlbridge/1.0"

// Config captures the parameters of a web connection.
type Config struct {
	Name          string        `mapstructure:"name"`
	Seeds         []string      `mapstructure:"seeds"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	// AllowHosts restricts the crawl to these hosts and their subdomains when set.
	AllowHosts  []string          `mapstructure:"allow_hosts"`
	DenyHosts   []string          `mapstructure:"deny_hosts"`
	RateLimit   ratelimit.Config  `mapstructure:"rate_limit"`
	MaxBodySize int               `mapstructure:"max_body_size"`
	Headers     map[string]string `mapstructure:"headers"`
	Render      RenderConfig      `mapstructure:"render"`
}

// Connector crawls websites.
type Connector struct {
	cfg      Config
	client   *http.Client
	limiter  *ratelimit.Limiter
	robots   robotsPolicy
	links    *linkExtractor
	renderer Renderer
	detector *detector.Heuristic
	logger   *zap.Logger
}

// New builds a web Connector. renderer may be nil, in which case content is
// fetched with plain GET requests.
func New(cfg Config, renderer Renderer, logger *zap.Logger) (*Connector, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	for _, seed := range cfg.Seeds {
		if _, err := NormalizeURL(seed); err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", seed, err)
		}
	}
	transport := newHTTPTransport()
	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	return &Connector{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(cfg.RateLimit),
		robots:  newRobotsPolicy(cfg.RespectRobots, client, cfg.UserAgent, logger),
		links: &linkExtractor{
			transport:   transport,
			userAgent:   cfg.UserAgent,
			timeout:     cfg.Timeout,
			maxBodySize: cfg.MaxBodySize,
		},
		renderer: renderer,
		detector: detector.NewHeuristic(cfg.Render.PromoteThreshold),
		logger:   logger,
	}, nil
}

// Name implements crawler.Connector.
func (c *Connector) Name() string {
	return c.cfg.Name
}

// Kind implements crawler.Connector.
func (c *Connector) Kind() string {
	return "web"
}

// Check issues a HEAD request against every configured seed host.
func (c *Connector) Check(ctx context.Context) error {
	for _, seed := range c.cfg.Seeds {
		u, err := url.Parse(seed)
		if err != nil {
			return bridge.Protocol(fmt.Sprintf("invalid seed %q", seed), err)
		}
		root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
		resp, err := c.do(ctx, http.MethodHead, root.String())
		if err != nil {
			return err
		}
		c.closeBody(resp)
		if resp.StatusCode >= 500 {
			return statusError("check", resp.StatusCode)
		}
	}
	return nil
}

// Seed emits the normalized seed URLs of the job, or of the connection.
func (c *Connector) Seed(_ context.Context, params crawler.JobParameters, out *bridge.Sequence) error {
	seeds := params.Seeds
	if len(seeds) == 0 {
		seeds = c.cfg.Seeds
	}
	for _, seed := range seeds {
		norm, err := NormalizeURL(seed)
		if err != nil {
			return bridge.Protocol(fmt.Sprintf("invalid seed %q", seed), err)
		}
		if !out.Put(norm) {
			return nil
		}
	}
	return nil
}

// Version issues a HEAD request. Pages without validators get an empty version and
// are always refetched. Hosts outside the allow list and robots-excluded pages are
// reported as not found.
func (c *Connector) Version(ctx context.Context, id string) (crawler.DocumentInfo, error) {
	if err := c.admit(ctx, id); err != nil {
		return crawler.DocumentInfo{}, err
	}
	resp, err := c.do(ctx, http.MethodHead, id)
	if err != nil {
		return crawler.DocumentInfo{}, err
	}
	c.closeBody(resp)
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return crawler.DocumentInfo{Container: true, Indexable: true, URI: id}, nil
	}
	if err := statusError("version", resp.StatusCode); err != nil {
		return crawler.DocumentInfo{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	info := crawler.DocumentInfo{
		Container:   isHTML(contentType),
		Indexable:   true,
		ContentType: contentType,
		URI:         resp.Request.URL.String(),
	}
	etag := resp.Header.Get("ETag")
	modified, _ := http.ParseTime(resp.Header.Get("Last-Modified"))
	if etag == "" && modified.IsZero() {
		return info, nil
	}
	fp := fingerprint.Fingerprint{
		Path:   info.URI,
		Tag:    etag,
		Length: resp.ContentLength,
	}
	if !modified.IsZero() {
		fp.Modified = modified.UnixMilli()
	}
	info.Version = fp.String()
	return info, nil
}

// Children emits the admissible links of an HTML page, deduplicated per page.
func (c *Connector) Children(ctx context.Context, id string, out *bridge.Sequence) error {
	if err := c.limiter.Wait(ctx, id); err != nil {
		return classifyTransport("rate limit", err)
	}
	seen := make(map[string]struct{})
	return c.links.visit(ctx, id, func(link string) bool {
		norm, err := NormalizeURL(link)
		if err != nil || !c.hostAllowed(norm) {
			return true
		}
		if _, dup := seen[norm]; dup {
			return true
		}
		seen[norm] = struct{}{}
		return out.Put(norm)
	})
}

// Content streams the page body. With a renderer configured, HTML pages that
// look client-rendered are replaced by their rendered markup.
func (c *Connector) Content(ctx context.Context, id string, out *bridge.ByteStream) error {
	if err := c.limiter.Wait(ctx, id); err != nil {
		return classifyTransport("rate limit", err)
	}
	if c.renderer != nil && c.cfg.Render.Always {
		return c.render(ctx, id, out)
	}

	resp, err := c.do(ctx, http.MethodGet, id)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)
	if err := statusError("content", resp.StatusCode); err != nil {
		return err
	}
	if c.renderer != nil && isHTML(resp.Header.Get("Content-Type")) {
		return c.promote(ctx, id, resp, out)
	}
	if _, err := out.ReadFrom(resp.Body); err != nil {
		if errors.Is(err, bridge.ErrAbandoned) {
			return err
		}
		return classifyTransport("read body", err)
	}
	return nil
}

// promote buffers an HTML body and renders the page if the detector asks for it.
func (c *Connector) promote(ctx context.Context, id string, resp *http.Response, out *bridge.ByteStream) error {
	body, err := readBody(resp.Body, c.cfg.MaxBodySize)
	if err != nil {
		return classifyTransport("read body", err)
	}
	if c.detector.ShouldPromote(resp.StatusCode, body) {
		c.logger.Debug("promoting page to headless render", zap.String("url", id), zap.Int("bytes", len(body)))
		return c.render(ctx, id, out)
	}
	_, err = out.Write(body)
	return err
}

func (c *Connector) render(ctx context.Context, id string, out *bridge.ByteStream) error {
	html, err := c.renderer.Render(ctx, id)
	if err != nil {
		return err
	}
	_, err = out.Write([]byte(html))
	return err
}

func (c *Connector) admit(ctx context.Context, id string) error {
	if !c.hostAllowed(id) {
		return fmt.Errorf("host not allowed: %w", crawler.ErrNotFound)
	}
	if !c.robots.Allowed(ctx, id) {
		return fmt.Errorf("disallowed by robots.txt: %w", crawler.ErrNotFound)
	}
	if err := c.limiter.Wait(ctx, id); err != nil {
		return classifyTransport("rate limit", err)
	}
	return nil
}

func (c *Connector) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, bridge.Protocol(fmt.Sprintf("build %s request", method), err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(strings.ToLower(method)+" "+target, err)
	}
	return resp, nil
}

func (c *Connector) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("close response body failed", zap.Error(err))
	}
}

// hostAllowed applies the scheme and host lists. A list entry matches the host
// itself and any subdomain.
func (c *Connector) hostAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, deny := range c.cfg.DenyHosts {
		if hostMatches(host, deny) {
			return false
		}
	}
	if len(c.cfg.AllowHosts) == 0 {
		return true
	}
	for _, allow := range c.cfg.AllowHosts {
		if hostMatches(host, allow) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// readBody reads r fully, or up to limit bytes when limit > 0.
func readBody(r io.Reader, limit int) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, int64(limit))
	}
	return io.ReadAll(r)
}
