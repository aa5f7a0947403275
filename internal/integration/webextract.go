package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"github.com/yangwenmai/labnotebook/internal/model"
)

const (
	defaultExtractLength = 15000
	// maxExtractAttempts is the number of fetch attempts before giving up.
	maxExtractAttempts = 3
	// maxPageSize is the maximum HTTP response body size (5MB).
	maxPageSize = 5 * 1024 * 1024
)

// WebExtract fetches a web page and extracts its readable text.
type WebExtract struct {
	client  *http.Client
	vars    VariableSource
	log     *slog.Logger
	backoff time.Duration
}

// NewWebExtract creates the web_extract integration.
func NewWebExtract(d Deps) *WebExtract {
	d = d.withFallbacks()
	return &WebExtract{client: d.HTTPClient, vars: d.Variables, log: d.Logger, backoff: 2 * time.Second}
}

func (w *WebExtract) Description() string {
	return "Fetch a web page and extract its readable article text"
}

type webExtractInputs struct {
	URL       string `json:"url" validate:"required,http_url"`
	MaxLength int    `json:"max_length" validate:"gte=0"`
	MinLength int    `json:"min_length" validate:"gte=0"`
	UserAgent string `json:"user_agent"`
}

func (w *WebExtract) parse(ctx context.Context, inputs model.Object) (webExtractInputs, error) {
	var in webExtractInputs
	merged, err := withDefaults(ctx, w.vars, TypeWebExtract, inputs)
	if err != nil {
		return in, err
	}
	if err := decodeInputs(merged, &in); err != nil {
		return in, err
	}
	if in.MaxLength == 0 {
		in.MaxLength = defaultExtractLength
	}
	return in, nil
}

// ValidateInputs merges defaults and checks the URL.
func (w *WebExtract) ValidateInputs(ctx context.Context, inputs model.Object) error {
	_, err := w.parse(ctx, inputs)
	return err
}

// Execute fetches the page with retries and returns the article.
func (w *WebExtract) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	in, err := w.parse(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxExtractAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * w.backoff):
			}
		}
		res, err := w.extract(ctx, in)
		if err == nil {
			return res, nil
		}
		lastErr = err
		w.log.Warn("extract attempt failed", "url", in.URL, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxExtractAttempts, lastErr)
}

func (w *WebExtract) extract(ctx context.Context, in webExtractInputs) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	ua := in.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; labnb/1.0)"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, in.URL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parsedURL, _ := nurl.Parse(in.URL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	text := normalizeText(article.TextContent)
	if n := utf8.RuneCountInString(text); n < in.MinLength {
		return nil, fmt.Errorf("extracted content too short (%d chars)", n)
	}
	truncated := false
	if utf8.RuneCountInString(text) > in.MaxLength {
		text = string([]rune(text)[:in.MaxLength])
		truncated = true
	}

	var published string
	if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		published = article.PublishedTime.UTC().Format(time.RFC3339)
	}
	return &Result{
		Outputs: model.Object{
			"url":          in.URL,
			"title":        article.Title,
			"byline":       article.Byline,
			"excerpt":      article.Excerpt,
			"site_name":    article.SiteName,
			"text":         text,
			"word_count":   len(strings.Fields(text)),
			"truncated":    truncated,
			"published_at": published,
		},
		Artifacts: []ArtifactData{{
			Type:     "text/plain; charset=utf-8",
			Data:     []byte(text),
			Metadata: model.Object{"kind": "extracted_text", "url": in.URL},
		}},
	}, nil
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
