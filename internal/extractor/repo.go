package extractor

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var repoHosts = map[string]bool{
	"github.com":     true,
	"www.github.com": true,
	"gitlab.com":     true,
	"www.gitlab.com": true,
	"codeberg.org":   true,
}

// Repo extracts repository pages on code-hosting platforms: owner/name from
// the path, star and fork counts and primary language from platform markup.
type Repo struct{}

// NewRepo creates the code-hosting extractor.
func NewRepo() *Repo { return &Repo{} }

func (r *Repo) Name() string  { return "repo" }
func (r *Repo) Priority() int { return 90 }

func (r *Repo) CanHandle(u *url.URL) bool {
	if !repoHosts[strings.ToLower(u.Hostname())] {
		return false
	}
	// Repository pages have at least /owner/name.
	return len(pathSegments(u)) >= 2
}

func (r *Repo) Extract(ctx *Context, doc *goquery.Document) (*Result, error) {
	segments := pathSegments(ctx.URL)
	details := &RepoDetails{}
	if len(segments) >= 2 {
		details.Owner = segments[0]
		details.Repo = segments[1]
	}

	details.Stars = socialCount(doc, "#repo-stars-counter-star", `a[href$="/stargazers"]`)
	details.Forks = socialCount(doc, "#repo-network-counter", `a[href$="/forks"]`)
	details.Language = CleanText(doc.Find(`span[itemprop="programmingLanguage"]`).First().Text())

	description := pageDescription(doc)
	title := ogContent(doc, "title")
	if title == "" && details.Owner != "" {
		title = details.Owner + "/" + details.Repo
	}
	if title == "" {
		title = pageTitle(doc)
	}

	result := &Result{
		Title:       title,
		Description: description,
		Author:      details.Owner,
		SiteName:    ogContent(doc, "site_name"),
		Favicon:     faviconURL(ctx, doc),
		Image:       ogContent(doc, "image"),
		Content:     boundContent(description + "\n" + readmeText(doc)),
		Domain:      ctx.URL.Hostname(),
		ContentType: "repo",
		Details:     &Details{Kind: KindRepo, Repo: details},
		Meta: Meta{
			Extractor:   r.Name(),
			ExtractedAt: time.Now().UTC(),
		},
	}
	if details.Stars == nil {
		result.Meta.Warnings = append(result.Meta.Warnings, "star count not found")
	}
	return result, nil
}

func pathSegments(u *url.URL) []string {
	var segments []string
	for _, s := range strings.Split(u.EscapedPath(), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// socialCount reads a count from the first matching selector, tolerating
// "1,234" and "1.2k" style formatting. Returns nil when nothing parses.
func socialCount(doc *goquery.Document, selectors ...string) *int {
	for _, sel := range selectors {
		text := CleanText(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}
		if n := parseCount(text); n != nil {
			return n
		}
	}
	return nil
}

func parseCount(s string) *int {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier, s = 1000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier, s = 1000000, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f * multiplier)
	return &n
}

func readmeText(doc *goquery.Document) string {
	return CleanText(doc.Find("article.markdown-body, #readme, .readme").First().Text())
}
