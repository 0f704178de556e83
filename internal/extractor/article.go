package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Article is the generic fallback extractor. It accepts every URL and relies
// only on widely present markup: the title element, meta/Open Graph tags and
// body paragraphs.
type Article struct{}

// NewArticle creates the generic article extractor.
func NewArticle() *Article { return &Article{} }

func (a *Article) Name() string            { return "article" }
func (a *Article) Priority() int           { return 0 }
func (a *Article) CanHandle(*url.URL) bool { return true }

// Extract mines title, description and body text plus coarse page signals
// (heading counts, internal/external link split).
func (a *Article) Extract(ctx *Context, doc *goquery.Document) (*Result, error) {
	result := &Result{
		Title:       pageTitle(doc),
		Description: pageDescription(doc),
		Author:      metaContent(doc, `meta[name="author"]`, `meta[property="article:author"]`),
		SiteName:    ogContent(doc, "site_name"),
		Favicon:     faviconURL(ctx, doc),
		Image:       ogContent(doc, "image"),
		Domain:      ctx.URL.Hostname(),
		ContentType: "article",
		Meta: Meta{
			Extractor:   a.Name(),
			Fallback:    true,
			ExtractedAt: time.Now().UTC(),
		},
	}

	var paragraphs []string
	doc.Find("article p, main p, p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := CleanText(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
		return len(paragraphs) < 40
	})
	body := strings.Join(paragraphs, "\n")
	result.Content = boundContent(body)

	if result.Title == "" {
		// Last resort before giving up: the first heading.
		result.Title = CleanText(doc.Find("h1").First().Text())
	}
	if result.Title == "" {
		result.Title = ctx.URL.Hostname()
		result.Meta.Warnings = append(result.Meta.Warnings, "no title found, used hostname")
	}

	result.Details = &Details{
		Kind: KindArticle,
		Article: &ArticleDetails{
			HeadingCounts: countHeadings(doc),
			WordCount:     len(strings.Fields(body)),
		},
	}
	result.Details.Article.InternalLinks, result.Details.Article.ExternalLinks = countLinks(doc, ctx.URL)

	return result, nil
}

func countHeadings(doc *goquery.Document) map[string]int {
	counts := make(map[string]int)
	for i := 1; i <= 6; i++ {
		tag := fmt.Sprintf("h%d", i)
		if n := doc.Find(tag).Length(); n > 0 {
			counts[tag] = n
		}
	}
	return counts
}

func countLinks(doc *goquery.Document, base *url.URL) (internal, external int) {
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host == base.Host {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}
