// Package thumb resolves music artwork for the naoTimes player: Bandcamp and
// SoundCloud covers are located by scraping the track page, YouTube Music
// covers are cropped out of the video thumbnail.
package thumb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

const (
	// DefaultUserAgent is sent to upstream sites that reject bot agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	defaultSoundCloudBase = "https://soundcloud.com"
	defaultYouTubeBase    = "https://i.ytimg.com/vi"
	defaultTimeout        = 15 * time.Second

	bandcampSelector   = `link[rel="image_src"]`
	soundcloudSelector = `meta[property="og:image"]`
)

var (
	// ErrNotFound means the upstream page or its artwork does not exist.
	ErrNotFound = errors.New("thumbnail not found")
	// ErrInvalidSource means the caller supplied an unusable page address.
	ErrInvalidSource = errors.New("invalid thumbnail source")
)

// Config controls the Resolver.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	SoundCloudBase string
	YouTubeBase    string
	Transport      http.RoundTripper
	Logger         *zap.Logger
}

// Resolver looks up artwork on third-party sites.
type Resolver struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Resolver.
func New(cfg Config) *Resolver {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.SoundCloudBase = strings.TrimRight(orDefault(cfg.SoundCloudBase, defaultSoundCloudBase), "/")
	cfg.YouTubeBase = strings.TrimRight(orDefault(cfg.YouTubeBase, defaultYouTubeBase), "/")
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(cfg.Transport)

	return &Resolver{cfg: cfg, baseCollector: c, logger: logger}
}

// Bandcamp returns the cover image address of a Bandcamp page.
func (r *Resolver) Bandcamp(ctx context.Context, pageURL string) (string, error) {
	target, err := normalizePageURL(pageURL)
	if err != nil {
		telemetry.ObserveThumb("bandcamp", "invalid")
		return "", err
	}
	href, err := r.scrapeAttr(ctx, target, bandcampSelector, "href")
	telemetry.ObserveThumb("bandcamp", outcome(err))
	return href, err
}

// SoundCloud returns the cover image address of a SoundCloud track.
func (r *Resolver) SoundCloud(ctx context.Context, artist, title string) (string, error) {
	if strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
		telemetry.ObserveThumb("soundcloud", "invalid")
		return "", fmt.Errorf("%w: artist and title are required", ErrInvalidSource)
	}
	target := r.cfg.SoundCloudBase + "/" + url.PathEscape(artist) + "/" + url.PathEscape(title)
	href, err := r.scrapeAttr(ctx, target, soundcloudSelector, "content")
	telemetry.ObserveThumb("soundcloud", outcome(err))
	return href, err
}

// YouTubeMusic downloads the max resolution thumbnail of a video.
func (r *Resolver) YouTubeMusic(ctx context.Context, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/?#") {
		telemetry.ObserveThumb("ytm", "invalid")
		return nil, fmt.Errorf("%w: bad video id %q", ErrInvalidSource, id)
	}
	var body []byte
	collector := r.collector()
	collector.OnResponse(func(resp *colly.Response) {
		body = append([]byte(nil), resp.Body...)
	})
	err := r.visit(ctx, collector, r.cfg.YouTubeBase+"/"+url.PathEscape(id)+"/maxresdefault.jpg")
	if err == nil && len(body) == 0 {
		err = fmt.Errorf("%w: empty thumbnail", ErrNotFound)
	}
	telemetry.ObserveThumb("ytm", outcome(err))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (r *Resolver) scrapeAttr(ctx context.Context, target, selector, attr string) (string, error) {
	var found string
	collector := r.collector()
	collector.OnHTML(selector, func(e *colly.HTMLElement) {
		if found == "" {
			found = strings.TrimSpace(e.Attr(attr))
		}
	})
	if err := r.visit(ctx, collector, target); err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: no %s on %s", ErrNotFound, selector, target)
	}
	r.logger.Debug("thumbnail resolved", zap.String("page", target), zap.String("image", found))
	return found, nil
}

func (r *Resolver) collector() *colly.Collector {
	c := r.baseCollector.Clone()
	c.UserAgent = r.cfg.UserAgent
	c.SetRequestTimeout(r.cfg.Timeout)
	c.WithTransport(r.cfg.Transport)
	return c
}

func (r *Resolver) visit(ctx context.Context, collector *colly.Collector, target string) error {
	var fetchErr error
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			fetchErr = fmt.Errorf("%w: %s", ErrNotFound, target)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("thumbnail fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			if errors.Is(fetchErr, ErrNotFound) {
				return fetchErr
			}
			return fmt.Errorf("thumbnail fetch failed: %w", fetchErr)
		}
		if err != nil {
			return fmt.Errorf("thumbnail visit failed: %w", err)
		}
		return nil
	}
}

func normalizePageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if unescaped, err := url.QueryUnescape(raw); err == nil && strings.Contains(raw, "%") {
		raw = unescaped
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
	return parsed.String(), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
