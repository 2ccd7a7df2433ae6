package tool

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"agentcli/internal/domain"
	"agentcli/internal/security"
)

const (
	fetchTimeout    = 10 * time.Second
	fetchMaxBytes   = 100 * 1024 // 100KB
	searchMaxHits   = 5
	searchLookahead = 2000
	userAgentString = "Mozilla/5.0 (compatible; agentcli/0.1)"
)

// Renderer turns a URL into the HTML a browser would see after scripts ran.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// --- URLFetchTool ---

// URLFetchTool fetches a URL and returns the raw response body.
type URLFetchTool struct {
	client   *http.Client
	renderer Renderer
}

type URLFetchConfig struct {
	Client *http.Client
	// Renderer, when set, replaces the plain HTTP fetch.
	Renderer Renderer
}

func NewURLFetchTool(cfg URLFetchConfig) *URLFetchTool {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: fetchTimeout}
	}
	return &URLFetchTool{client: cfg.Client, renderer: cfg.Renderer}
}

func (t *URLFetchTool) Name() string { return "url_fetch" }
func (t *URLFetchTool) Description() string {
	return "Fetch the contents of a URL over HTTP(S) and return the raw response body as text (HTML or plain). 10s timeout."
}
func (t *URLFetchTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "url", Description: "The full URL (http/https) to fetch and return raw HTML for.", Kind: domain.KindString, Required: true, NonEmpty: true},
	}
}

func (t *URLFetchTool) Validate(in domain.Input) error {
	u, err := url.Parse(in.String("url"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &FieldError{Field: "url", Reason: "must be an absolute http or https URL"}
	}
	return nil
}

func (t *URLFetchTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	rawURL := in.String("url")
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	if t.renderer != nil {
		return t.renderer.Render(ctx, rawURL)
	}

	return httpGet(ctx, t.client, rawURL)
}

// httpGet returns the body, cut at fetchMaxBytes on a character boundary and
// marked when longer. Statuses of 400 and above are errors.
func httpGet(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("request failed: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(body) <= fetchMaxBytes {
		return string(body), nil
	}
	cut := fetchMaxBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + security.TruncationMarker, nil
}

// --- WebSearchTool ---

var (
	anchorRe  = regexp.MustCompile(`(?is)<a\s+href="/url\?q=([^"&]+)[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`(?i)<span[^>]*>([^<]{20,300})</span>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)
	schemeRe  = regexp.MustCompile(`(?i)^https?:`)
)

// WebSearchTool scrapes the Google results page. The markup is not a stable
// interface, so no results is a normal outcome.
type WebSearchTool struct {
	client  *http.Client
	baseURL string
}

type WebSearchConfig struct {
	Client *http.Client
	// BaseURL defaults to https://www.google.com/search.
	BaseURL string
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: fetchTimeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.google.com/search"
	}
	return &WebSearchTool{client: cfg.Client, baseURL: cfg.BaseURL}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web (Google) for a query and return top result links with titles & snippets. Use before url_fetch."
}
func (t *WebSearchTool) Fields() []domain.Field {
	return []domain.Field{
		{Name: "query", Description: "Search query", Kind: domain.KindString, Required: true, NonEmpty: true},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, in domain.Input) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	endpoint := t.baseURL + "?q=" + url.QueryEscape(strings.TrimSpace(in.String("query"))) + "&hl=en"
	page, err := httpGet(ctx, t.client, endpoint)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}

	hits := parseSearchResults(page, searchMaxHits)
	if len(hits) == 0 {
		return "No results found.", nil
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		snippet := h.Snippet
		if snippet == "" {
			snippet = "(no snippet)"
		}
		parts[i] = fmt.Sprintf("%d. %s\nURL: %s\nSnippet: %s\n", i+1, h.Title, h.URL, snippet)
	}
	return strings.Join(parts, "\n"), nil
}

type searchHit struct {
	Title   string
	URL     string
	Snippet string
}

func parseSearchResults(page string, limit int) []searchHit {
	var hits []searchHit
	seen := make(map[string]bool)
	for _, m := range anchorRe.FindAllStringSubmatchIndex(page, -1) {
		if len(hits) >= limit {
			break
		}
		target, err := url.PathUnescape(page[m[2]:m[3]])
		if err != nil || !schemeRe.MatchString(target) || seen[target] {
			continue
		}
		title := stripTags(page[m[4]:m[5]])
		if title == "" {
			continue
		}
		end := m[0] + searchLookahead
		if end > len(page) {
			end = len(page)
		}
		var snippet string
		if sm := snippetRe.FindStringSubmatch(page[m[0]:end]); sm != nil {
			snippet = stripTags(sm[1])
		}
		hits = append(hits, searchHit{Title: title, URL: target, Snippet: snippet})
		seen[target] = true
	}
	return hits
}

func stripTags(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

var (
	_ domain.Tool           = (*URLFetchTool)(nil)
	_ domain.Tool           = (*WebSearchTool)(nil)
	_ domain.InputValidator = (*URLFetchTool)(nil)
)
