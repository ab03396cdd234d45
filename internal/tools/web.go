package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	webBodyLimit    = 2 << 20
	webContentLimit = 6000
)

// WebFetch downloads a page and returns its readable text.
type WebFetch struct {
	client *http.Client
}

// NewWebFetch creates the tool. A nil client gets a 20s timeout client.
func NewWebFetch(client *http.Client) *WebFetch {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebFetch{client: client}
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Description() string {
	return "Fetch a web page over HTTP(S) and return its title and visible text."
}

func (w *WebFetch) Args() string { return `{"url": "https://example.com"}` }

func (w *WebFetch) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	raw := StringArg(args, "url")
	if raw == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "cadence/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, webBodyLimit)
	out := map[string]any{
		"url":    u.String(),
		"status": resp.StatusCode,
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		doc.Find("script, style, noscript, nav, footer").Remove()
		out["title"] = strings.TrimSpace(doc.Find("title").First().Text())
		out["content"] = truncate(collapse(doc.Find("body").Text()), webContentLimit)
	} else {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		out["content"] = truncate(collapse(string(data)), webContentLimit)
	}

	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	return out, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
