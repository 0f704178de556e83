package extractor

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkdex/linkdex/internal/logger"
)

// Registry holds the registered extractors sorted by descending priority and
// dispatches extraction with a bounded one-level fallback: when a specialized
// extractor fails, the generic fallback is tried once against the same
// document before the failure propagates.
type Registry struct {
	extractors []Extractor
	fallback   Extractor
	log        logger.Logger
}

// NewRegistry creates a registry with the given fallback extractor. The
// fallback must accept every URL.
func NewRegistry(fallback Extractor, log logger.Logger) *Registry {
	return &Registry{fallback: fallback, log: log}
}

// NewDefaultRegistry builds a registry with all built-in extractors.
func NewDefaultRegistry(log logger.Logger) *Registry {
	r := NewRegistry(NewArticle(), log)
	r.Register(NewVideo())
	r.Register(NewRepo())
	r.Register(NewSocial())
	return r
}

// Register appends an extractor and re-sorts by descending priority. Equal
// priorities keep registration order.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	sort.SliceStable(r.extractors, func(i, j int) bool {
		return r.extractors[i].Priority() > r.extractors[j].Priority()
	})
}

// Find returns the first extractor accepting the URL, else the fallback.
func (r *Registry) Find(rawURL string) Extractor {
	ctx, err := NewContext(rawURL, rawURL, nil, 0)
	if err != nil {
		return r.fallback
	}
	return r.forURL(ctx.URL)
}

// forURL returns the highest-priority extractor accepting the URL, else the
// fallback.
func (r *Registry) forURL(u *url.URL) Extractor {
	if u == nil {
		return r.fallback
	}
	for _, e := range r.extractors {
		if e.CanHandle(u) {
			return e
		}
	}
	return r.fallback
}

// Extract builds an extraction context, resolves the extractor for the URL
// and runs it over the HTML.
func (r *Registry) Extract(originalURL, normalizedURL, html string, headers http.Header, statusCode int) (*Result, error) {
	ctx, err := NewContext(originalURL, normalizedURL, headers, statusCode)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	chosen := r.forURL(ctx.URL)

	result, err := chosen.Extract(ctx, doc)
	if err != nil && chosen != r.fallback {
		// Specialized extractors break when platform markup changes; the
		// fallback's markup-tolerant heuristics usually still yield a title.
		r.log.Warn("specialized extractor failed, retrying with fallback",
			logger.String("extractor", chosen.Name()),
			logger.String("url", originalURL),
			logger.Err(err),
		)
		result, err = r.fallback.Extract(ctx, doc)
		if result != nil {
			result.Meta.Fallback = true
			result.Meta.Warnings = append(result.Meta.Warnings,
				fmt.Sprintf("%s extractor failed, fell back to %s", chosen.Name(), r.fallback.Name()))
		}
	}
	if err != nil {
		r.log.Error("extraction failed",
			logger.String("extractor", chosen.Name()),
			logger.String("url", originalURL),
			logger.Err(err),
		)
		return nil, err
	}

	r.log.Debug("extraction succeeded",
		logger.String("extractor", result.Meta.Extractor),
		logger.Bool("fallback", result.Meta.Fallback),
		logger.String("url", originalURL),
	)
	return result, nil
}
