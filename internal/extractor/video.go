package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var videoHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
	"vimeo.com":       true,
	"www.vimeo.com":   true,
}

// Video extracts watch pages on known video platforms. It mines the JSON-LD
// VideoObject block first, then Open Graph video tags.
type Video struct{}

// NewVideo creates the video-platform extractor.
func NewVideo() *Video { return &Video{} }

func (v *Video) Name() string  { return "video" }
func (v *Video) Priority() int { return 100 }

func (v *Video) CanHandle(u *url.URL) bool {
	return videoHosts[strings.ToLower(u.Hostname())]
}

func (v *Video) Extract(ctx *Context, doc *goquery.Document) (*Result, error) {
	details := &VideoDetails{VideoID: videoID(ctx.URL)}

	ld := firstJSONLD(doc, "VideoObject")
	title := jsonLDString(ld, "name")
	description := jsonLDString(ld, "description")
	details.UploadDate = jsonLDString(ld, "uploadDate")
	details.DurationSeconds = ParseISODuration(jsonLDString(ld, "duration"))

	if details.DurationSeconds == nil {
		details.DurationSeconds = ParseISODuration(metaContent(doc, `meta[itemprop="duration"]`))
	}
	if title == "" {
		title = pageTitle(doc)
	}
	if description == "" {
		description = pageDescription(doc)
	}

	details.Channel = jsonLDAuthorName(ld)
	if details.Channel == "" {
		details.Channel = metaContent(doc, `link[itemprop="name"]`, `meta[itemprop="channelId"]`)
	}

	result := &Result{
		Title:       title,
		Description: description,
		Author:      details.Channel,
		SiteName:    ogContent(doc, "site_name"),
		Favicon:     faviconURL(ctx, doc),
		Image:       ogContent(doc, "image"),
		Content:     boundContent(description),
		Domain:      ctx.URL.Hostname(),
		ContentType: "video",
		Details:     &Details{Kind: KindVideo, Video: details},
		Meta: Meta{
			Extractor:   v.Name(),
			ExtractedAt: time.Now().UTC(),
		},
	}
	if result.Title == "" {
		result.Meta.Warnings = append(result.Meta.Warnings, "no video title found")
	}
	return result, nil
}

// jsonLDAuthorName digs the author/channel name out of a VideoObject block.
// The author field is either a string, an object or a list of objects.
func jsonLDAuthorName(ld map[string]interface{}) string {
	if ld == nil {
		return ""
	}
	switch author := ld["author"].(type) {
	case string:
		return strings.TrimSpace(author)
	case map[string]interface{}:
		name, _ := author["name"].(string)
		return strings.TrimSpace(name)
	case []interface{}:
		for _, item := range author {
			if obj, ok := item.(map[string]interface{}); ok {
				if name, _ := obj["name"].(string); name != "" {
					return strings.TrimSpace(name)
				}
			}
		}
	}
	return ""
}

// videoID pulls the platform video id from the URL: the v query parameter on
// youtube.com, the first path segment on youtu.be and vimeo.com.
func videoID(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, "youtube.com") {
		return u.Query().Get("v")
	}
	return strings.TrimPrefix(u.EscapedPath(), "/")
}
