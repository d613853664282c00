package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/sweetpotato0/taskpilot/tool"
)

const searchURL = "https://html.duckduckgo.com/html/"

// Config holds web search tool configuration
type Config struct {
	MaxResults int
	Timeout    time.Duration
	UserAgent  string
}

// DefaultConfig returns default web search configuration
func DefaultConfig() *Config {
	return &Config{
		MaxResults: 5,
		Timeout:    15 * time.Second,
		UserAgent:  "taskpilot/1.0",
	}
}

// Searcher runs web searches and extracts readable text from result pages.
type Searcher struct {
	config *Config
	client *http.Client
}

// New creates a web searcher
func New(config *Config) *Searcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	return &Searcher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Tool wraps the searcher as a registrable domain tool.
func (s *Searcher) Tool() *tool.Tool {
	return &tool.Tool{
		Name:        "websearch",
		Description: "Searches the web and returns titles, links and snippets",
		Keywords:    []string{"web", "internet", "online", "website", "news"},
		Mutating:    false,
		Handler: func(ctx context.Context, subQuery string, _ map[string]string) (string, error) {
			return s.Search(ctx, subQuery)
		},
	}
}

type result struct {
	Title   string
	Link    string
	Snippet string
}

// Search queries the search engine and renders the top results as text.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse search results: %w", err)
	}

	limit := s.config.MaxResults
	if n := tool.MaxResults(ctx); n > 0 && n < limit {
		limit = n
	}

	var results []result
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(results) >= limit {
			return false
		}
		title := strings.TrimSpace(sel.Find(".result__title").Text())
		link, _ := sel.Find(".result__a").Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if title == "" {
			return true
		}
		results = append(results, result{Title: title, Link: link, Snippet: snippet})
		return true
	})

	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, r.Title, r.Snippet)
		if r.Link != "" {
			fmt.Fprintf(&b, "%s\n", r.Link)
		}
		b.WriteByte('\n')
	}
	return CleanText(b.String()), nil
}

// FetchPage downloads one page and reduces it to readable text, keeping
// headings, paragraphs and list items.
func (s *Searcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var out []string
	doc.Find("h1,h2,h3,p,li").Each(func(i int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1":
			out = append(out, "# "+text)
		case "h2":
			out = append(out, "## "+text)
		case "h3":
			out = append(out, "### "+text)
		case "li":
			out = append(out, "- "+text)
		default:
			out = append(out, text)
		}
	})
	return CleanText(strings.Join(out, "\n\n")), nil
}

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes extracted text: control characters removed, runs of
// whitespace collapsed, at most one blank line between paragraphs.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")
	return strings.TrimSpace(b)
}
