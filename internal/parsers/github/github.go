// Package github parses GitHub repository search results and repository pages.
package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

// SearchURL is the GitHub search entry point.
const SearchURL = "https://github.com/search"

// Parse stages of the repositories bundle.
const (
	StageSearch crawler.Stage = "github.search"
	StageDetail crawler.Stage = "github.detail"
)

// MetaItemURL is the request metadata key that carries the record URL from
// the search stage to the detail stage.
const MetaItemURL = "item_url"

const (
	resultLinkSelector  = `div[data-testid="results-list"] div.search-title a`
	ownerSelector       = `a[data-hovercard-type="organization"]`
	sidebarHeadSelector = `div.Layout-sidebar h2`
	languageSelector    = `ul.list-style-none li a`
	languageNameMarker  = `span.color-fg-default.text-bold.mr-1`
)

var (
	// ErrNoBody is returned for responses whose fetch failed.
	ErrNoBody = errors.New("response has no body")
	// ErrMissingElement is returned when a detail page lacks a required section.
	ErrMissingElement = errors.New("required element not found")
)

// Options tune the bundle.
type Options struct {
	// EntryURL overrides SearchURL, mostly for tests.
	EntryURL string
	// EmitPartial also yields the URL-only record found on the search page.
	EmitPartial bool
}

type parser struct {
	opts Options
}

// NewBundle returns the repositories bundle.
func NewBundle(opts Options) crawler.Bundle {
	if opts.EntryURL == "" {
		opts.EntryURL = SearchURL
	}
	p := &parser{opts: opts}
	return crawler.Bundle{
		Name:      "repositories",
		EntryURL:  opts.EntryURL,
		SeedStage: StageSearch,
		Stages: map[crawler.Stage]crawler.ParseFunc{
			StageSearch: p.parseSearchPage,
			StageDetail: p.parseDetailPage,
		},
	}
}

// parseSearchPage yields one detail request per result link, preceded by the
// incomplete record when EmitPartial is set.
func (p *parser) parseSearchPage(ctx context.Context, resp crawler.FetchedResponse) iter.Seq2[crawler.WorkItem, error] {
	return func(yield func(crawler.WorkItem, error) bool) {
		doc, err := document(resp)
		if err != nil {
			yield(nil, err)
			return
		}
		links := doc.Find(resultLinkSelector)
		for i := range links.Length() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			href, ok := links.Eq(i).Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				continue
			}
			joined, err := resp.Join(strings.TrimSpace(href))
			if err != nil {
				yield(nil, fmt.Errorf("resolve result link: %w", err))
				return
			}
			itemURL, err := crawler.CanonicalURL(joined)
			if err != nil {
				yield(nil, fmt.Errorf("canonicalize result link: %w", err))
				return
			}
			if p.opts.EmitPartial {
				if !yield(crawler.ExtractedItem{URL: itemURL}, nil) {
					return
				}
			}
			next := crawler.NewFetchRequest(itemURL, StageDetail, crawler.Meta{
				MetaItemURL:  itemURL,
				"search_url": resp.URL,
			})
			if !yield(next, nil) {
				return
			}
		}
	}
}

// parseDetailPage yields a complete record for one repository page.
func (p *parser) parseDetailPage(_ context.Context, resp crawler.FetchedResponse) iter.Seq2[crawler.WorkItem, error] {
	return func(yield func(crawler.WorkItem, error) bool) {
		doc, err := document(resp)
		if err != nil {
			yield(nil, err)
			return
		}
		owner, err := parseOwner(doc)
		if err != nil {
			yield(nil, err)
			return
		}
		stats, err := parseLanguageStats(doc)
		if err != nil {
			yield(nil, err)
			return
		}

		itemURL, ok := resp.Meta().String(MetaItemURL)
		if !ok || itemURL == "" {
			itemURL = resp.Request.URL
		}
		yield(crawler.ExtractedItem{
			URL: itemURL,
			Extra: map[string]any{
				"owner":          owner,
				"language_stats": stats,
			},
		}, nil)
	}
}

func document(resp crawler.FetchedResponse) (*goquery.Document, error) {
	if resp.Body == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBody, resp.URL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(*resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func parseOwner(doc *goquery.Document) (string, error) {
	sel := doc.Find(ownerSelector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: owner", ErrMissingElement)
	}
	return strings.TrimSpace(sel.Text()), nil
}

func parseLanguageStats(doc *goquery.Document) (map[string]float64, error) {
	heading := doc.Find(sidebarHeadSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Languages")
	}).First()
	if heading.Length() == 0 {
		return nil, fmt.Errorf("%w: languages", ErrMissingElement)
	}

	stats := make(map[string]float64)
	entries := heading.Parent().Find(languageSelector)
	for i := range entries.Length() {
		entry := entries.Eq(i)
		if entry.Find(languageNameMarker).Length() == 0 {
			continue
		}
		spans := entry.Find("span")
		if spans.Length() < 2 {
			return nil, fmt.Errorf("%w: language percentage", ErrMissingElement)
		}
		name := strings.TrimSpace(spans.Eq(0).Text())
		raw := strings.TrimSuffix(strings.TrimSpace(spans.Eq(1).Text()), "%")
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse percentage for %s: %w", name, err)
		}
		stats[name] = pct
	}
	return stats, nil
}
