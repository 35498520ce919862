package services

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
)

// WebName is the registered name of the page extraction service.
const WebName = "web"

// Renderer fetches the rendered HTML of a page.
type Renderer interface {
	HTML(ctx context.Context, pageURL string) (string, error)
}

// Web extracts readable article text from pages. Rendering goes through
// a headless browser so JS-heavy pages still yield content; extraction
// uses readability on the rendered DOM.
type Web struct {
	renderer Renderer
	timeout  time.Duration
	maxChars int
}

// NewWeb builds the web service from configuration with a headless
// Chrome renderer.
func NewWeb(cfg config.WebConfig) *Web {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewWebWith(&ChromeRenderer{UserAgent: cfg.UserAgent}, timeout, cfg.MaxChars)
}

// NewWebWith builds the web service around an explicit renderer.
func NewWebWith(renderer Renderer, timeout time.Duration, maxChars int) *Web {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Web{renderer: renderer, timeout: timeout, maxChars: maxChars}
}

func (w *Web) Name() string                     { return WebName }
func (w *Web) Kind() core.CapabilityKind        { return core.KindService }
func (w *Web) Initialize(context.Context) error { return nil }
func (w *Web) Shutdown(context.Context) error   { return nil }

func (w *Web) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	pageURL, _ := data["url"].(string)
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "missing required field \"url\"", nil)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "invalid url \""+pageURL+"\"", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	html, err := w.renderer.HTML(ctx, pageURL)
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "page fetch failed", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "content extraction failed", err)
	}

	content := strings.Join(strings.Fields(article.TextContent), " ")
	if len(content) > w.maxChars {
		// Cut on a rune boundary so umlauts survive truncation.
		cut := w.maxChars
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	return map[string]any{
		"url":     pageURL,
		"title":   strings.TrimSpace(article.Title),
		"content": content,
		"length":  len(content),
	}, nil
}

// ChromeRenderer renders pages in headless Chrome.
type ChromeRenderer struct {
	UserAgent string
}

func (r *ChromeRenderer) HTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.UserAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
