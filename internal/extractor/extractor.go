// Package extractor turns fetched page markup into normalized results. Each
// content family (video, repo, social post, generic article) contributes one
// Extractor; the Registry picks the highest-priority extractor that accepts
// the URL and falls back to the generic article extractor.
package extractor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkdex/linkdex/internal/db"
)

// maxContentRunes bounds the free-text content passed downstream to
// classification.
const maxContentRunes = 4000

// Context is the immutable per-call input of one extraction attempt.
type Context struct {
	OriginalURL   string
	NormalizedURL string
	URL           *url.URL
	Headers       http.Header
	StatusCode    int
}

// NewContext parses the original URL and builds an extraction context.
func NewContext(originalURL, normalizedURL string, headers http.Header, statusCode int) (*Context, error) {
	parsed, err := url.Parse(originalURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", originalURL, err)
	}
	return &Context{
		OriginalURL:   originalURL,
		NormalizedURL: normalizedURL,
		URL:           parsed,
		Headers:       headers,
		StatusCode:    statusCode,
	}, nil
}

// Meta records how an extraction was performed.
type Meta struct {
	Extractor   string    `json:"extractor"`
	Fallback    bool      `json:"fallback"`
	ExtractedAt time.Time `json:"extracted_at"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Result is the normalized output of one extraction.
type Result struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	SiteName    string         `json:"site_name,omitempty"`
	Favicon     string         `json:"favicon,omitempty"`
	Image       string         `json:"image,omitempty"`
	Content     string         `json:"content,omitempty"`
	Domain      string         `json:"domain"`
	ContentType db.ContentType `json:"content_type"`
	Details     *Details       `json:"details,omitempty"`
	Meta        Meta           `json:"meta"`
}

// DetailKind tags the family-specific payload carried by a result.
type DetailKind string

const (
	KindArticle DetailKind = "article"
	KindVideo   DetailKind = "video"
	KindRepo    DetailKind = "repo"
	KindSocial  DetailKind = "social"
)

// Details is the content-family specific field bag. Exactly one of the
// variant pointers matching Kind is set.
type Details struct {
	Kind    DetailKind      `json:"kind"`
	Article *ArticleDetails `json:"article,omitempty"`
	Video   *VideoDetails   `json:"video,omitempty"`
	Repo    *RepoDetails    `json:"repo,omitempty"`
	Social  *SocialDetails  `json:"social,omitempty"`
}

// ArticleDetails carries the generic page signals.
type ArticleDetails struct {
	HeadingCounts map[string]int `json:"heading_counts,omitempty"`
	InternalLinks int            `json:"internal_links"`
	ExternalLinks int            `json:"external_links"`
	WordCount     int            `json:"word_count"`
}

// VideoDetails carries video-platform fields.
type VideoDetails struct {
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	Channel         string `json:"channel,omitempty"`
	UploadDate      string `json:"upload_date,omitempty"`
	VideoID         string `json:"video_id,omitempty"`
}

// RepoDetails carries code-hosting fields.
type RepoDetails struct {
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Stars    *int   `json:"stars,omitempty"`
	Forks    *int   `json:"forks,omitempty"`
	Language string `json:"language,omitempty"`
}

// SocialDetails carries micro-post fields.
type SocialDetails struct {
	Handle   string `json:"handle,omitempty"`
	PostText string `json:"post_text,omitempty"`
	PostID   string `json:"post_id,omitempty"`
}

// MarshalDetails serializes a Details payload for storage on a node.
func MarshalDetails(d *Details) string {
	if d == nil {
		return ""
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Extractor is the per-content-family extraction strategy.
type Extractor interface {
	// Name identifies the extractor in logs and result metadata.
	Name() string
	// Priority orders extractor selection; higher wins.
	Priority() int
	// CanHandle reports whether this extractor accepts the URL.
	CanHandle(u *url.URL) bool
	// Extract turns a parsed document into a normalized result.
	Extract(ctx *Context, doc *goquery.Document) (*Result, error)
}

// metaContent returns the content attribute of the first matching meta tag.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// ogContent looks up an Open Graph property.
func ogContent(doc *goquery.Document, property string) string {
	return metaContent(doc, fmt.Sprintf(`meta[property="og:%s"]`, property))
}

// pageTitle resolves the page title from Open Graph then the title element.
func pageTitle(doc *goquery.Document) string {
	if t := ogContent(doc, "title"); t != "" {
		return t
	}
	return CleanText(doc.Find("title").First().Text())
}

// pageDescription resolves the description from Open Graph then meta tags.
func pageDescription(doc *goquery.Document) string {
	return metaContent(doc,
		`meta[property="og:description"]`,
		`meta[name="description"]`,
		`meta[name="twitter:description"]`,
	)
}

// faviconURL resolves the favicon, made absolute against the page URL.
func faviconURL(ctx *Context, doc *goquery.Document) string {
	for _, sel := range []string{`link[rel="icon"]`, `link[rel="shortcut icon"]`, `link[rel="apple-touch-icon"]`} {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			return ResolveURL(ctx.URL, href)
		}
	}
	if ctx.URL != nil && ctx.URL.Host != "" {
		return ctx.URL.Scheme + "://" + ctx.URL.Host + "/favicon.ico"
	}
	return ""
}

// firstJSONLD returns the first JSON-LD block on the page whose @type matches
// wantType, or nil when none parses.
func firstJSONLD(doc *goquery.Document, wantType string) map[string]interface{} {
	var found map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return true
		}

		var blocks []map[string]interface{}
		var single map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			blocks = append(blocks, single)
		} else if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
			return true
		}

		for _, block := range blocks {
			if t, _ := block["@type"].(string); strings.EqualFold(t, wantType) {
				found = block
				return false
			}
		}
		return true
	})
	return found
}

func jsonLDString(block map[string]interface{}, key string) string {
	if block == nil {
		return ""
	}
	v, _ := block[key].(string)
	return strings.TrimSpace(v)
}

// CleanText collapses whitespace runs and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveURL makes href absolute against base. Malformed hrefs are returned
// unchanged.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// boundContent caps free-text content at maxContentRunes.
func boundContent(s string) string {
	runes := []rune(s)
	if len(runes) <= maxContentRunes {
		return s
	}
	return string(runes[:maxContentRunes])
}

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses an ISO-8601 duration such as "PT1H2M3S" into whole
// seconds. Any component may be absent. Malformed or empty input returns nil
// rather than an error: platform markup is not trusted.
func ParseISODuration(s string) *int {
	s = strings.TrimSpace(s)
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "") {
		return nil
	}

	total := 0
	if m[1] != "" {
		total += atoi(m[1]) * 86400
	}
	if m[2] != "" {
		total += atoi(m[2]) * 3600
	}
	if m[3] != "" {
		total += atoi(m[3]) * 60
	}
	if m[4] != "" {
		// Fractional seconds are truncated.
		total += atoi(strings.SplitN(m[4], ".", 2)[0])
	}
	return &total
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
