package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var socialHosts = map[string]bool{
	"twitter.com":     true,
	"www.twitter.com": true,
	"x.com":           true,
	"www.x.com":       true,
	"bsky.app":        true,
	"mastodon.social": true,
}

// Social extracts micro-post pages: the posting handle from the URL path and
// the post text from Open Graph tags (post pages render little static DOM).
type Social struct{}

// NewSocial creates the micro-post extractor.
func NewSocial() *Social { return &Social{} }

func (s *Social) Name() string  { return "social" }
func (s *Social) Priority() int { return 80 }

func (s *Social) CanHandle(u *url.URL) bool {
	return socialHosts[strings.ToLower(u.Hostname())]
}

func (s *Social) Extract(ctx *Context, doc *goquery.Document) (*Result, error) {
	details := &SocialDetails{}
	segments := pathSegments(ctx.URL)
	if len(segments) > 0 {
		details.Handle = "@" + strings.TrimPrefix(segments[0], "@")
	}
	// Post URLs look like /handle/status/<id> or /profile/<handle>/post/<id>.
	for i, seg := range segments {
		if (seg == "status" || seg == "post") && i+1 < len(segments) {
			details.PostID = segments[i+1]
			break
		}
	}

	description := pageDescription(doc)
	details.PostText = description

	title := ogContent(doc, "title")
	if title == "" {
		title = pageTitle(doc)
	}
	if title == "" && details.Handle != "" {
		title = "Post by " + details.Handle
	}

	result := &Result{
		Title:       title,
		Description: description,
		Author:      details.Handle,
		SiteName:    ogContent(doc, "site_name"),
		Favicon:     faviconURL(ctx, doc),
		Image:       ogContent(doc, "image"),
		Content:     boundContent(description),
		Domain:      ctx.URL.Hostname(),
		ContentType: "social",
		Details:     &Details{Kind: KindSocial, Social: details},
		Meta: Meta{
			Extractor:   s.Name(),
			ExtractedAt: time.Now().UTC(),
		},
	}
	if details.PostText == "" {
		result.Meta.Warnings = append(result.Meta.Warnings, "no post text found")
	}
	return result, nil
}
