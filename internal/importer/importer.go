// Package importer implements the single-URL import pipeline: validate,
// cache check, fetch and extract, classify, persist, derive hierarchy codes,
// schedule phase-two enrichment, cache the result.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/extractor"
	"github.com/linkdex/linkdex/internal/fetcher"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/service"
)

// Enqueuer schedules phase-two work for a stored node.
type Enqueuer interface {
	Enqueue(nodeID uint, phase db.JobPhase, priority int) (*db.ProcessingJob, error)
}

// Importer drives the import pipeline. Steps run strictly in sequence;
// failures before persistence abort the request, failures after it degrade.
type Importer struct {
	conn       *gorm.DB
	cache      *cache.ImportCache
	registry   *extractor.Registry
	fetch      fetcher.Fetcher
	classifier classify.Classifier
	enqueuer   Enqueuer
	log        logger.Logger
}

// New creates an importer. enqueuer may be nil, in which case phase-two
// scheduling is reported as failed without aborting imports.
func New(
	conn *gorm.DB,
	importCache *cache.ImportCache,
	registry *extractor.Registry,
	fetch fetcher.Fetcher,
	classifier classify.Classifier,
	enqueuer Enqueuer,
	log logger.Logger,
) *Importer {
	return &Importer{
		conn:       conn,
		cache:      importCache,
		registry:   registry,
		fetch:      fetch,
		classifier: classifier,
		enqueuer:   enqueuer,
		log:        log,
	}
}

// Cache exposes the import cache for duplicate pre-checks.
func (i *Importer) Cache() *cache.ImportCache { return i.cache }

// DB exposes the database handle for record-existence checks.
func (i *Importer) DB() *gorm.DB { return i.conn }

// Import runs the pipeline for one request. Exactly one of the returned
// result and error is non-nil.
func (i *Importer) Import(ctx context.Context, req Request) (*Result, *Error) {
	start := time.Now()
	log := i.log.With(logger.String("url", req.URL))

	// Step 1: validate.
	req.stage(StageValidating)
	if verr := validateURL(req.URL); verr != nil {
		log.Warn("import rejected", logger.Err(verr), logger.Duration("took", time.Since(start)))
		return nil, &Error{Code: CodeInvalidURL, Message: verr.Error()}
	}

	normalized := cache.NormalizeURL(req.URL)

	// Step 2: cache check. A hit whose node has since been deleted is
	// evicted and treated as a miss.
	if !req.ForceRefresh {
		if entry := i.cache.Get(req.URL); entry != nil {
			node, err := service.GetNodeByID(i.conn, entry.NodeID)
			if err == nil && node != nil {
				log.Info("import served from cache",
					logger.Uint("node_id", entry.NodeID),
					logger.Duration("took", time.Since(start)),
				)
				return cachedResult(entry), nil
			}
			i.cache.Invalidate(req.URL)
			log.Debug("evicted stale cache entry", logger.Uint("node_id", entry.NodeID))
		}
	}

	// Step 3: fetch and extract. Fatal: nothing downstream can run without
	// extracted content.
	req.stage(StageFetching)
	page, err := i.fetch.Fetch(ctx, req.URL)
	if err != nil {
		log.Error("fetch failed", logger.Err(err), logger.Duration("took", time.Since(start)))
		return nil, &Error{Code: CodeExtractionFailed, Message: fmt.Sprintf("fetch failed: %v", err)}
	}

	extracted, err := i.registry.Extract(req.URL, normalized, page.HTML, page.Headers, page.StatusCode)
	if err != nil {
		log.Error("extraction failed", logger.Err(err), logger.Duration("took", time.Since(start)))
		return nil, &Error{Code: CodeExtractionFailed, Message: fmt.Sprintf("extraction failed: %v", err)}
	}
	log.Debug("extraction complete",
		logger.String("extractor", extracted.Meta.Extractor),
		logger.String("title", extracted.Title),
	)

	// Step 4: classify. Not fatal: a transient classifier outage never
	// blocks ingestion.
	req.stage(StageClassifying)
	classification, err := i.classifier.Classify(ctx, extracted.Title, req.URL, extracted.Content)
	if err != nil {
		classification = classify.Fallback(err.Error())
		log.Warn("classification failed, using fallback", logger.Err(err))
	} else {
		log.Debug("classification complete",
			logger.String("category", classification.Category),
			logger.Float64("confidence", classification.Confidence),
		)
	}
	if classification.ContentType == "" {
		classification.ContentType = string(extracted.ContentType)
	}

	// Step 5: persist.
	req.stage(StageSaving)
	node := nodeFromExtraction(req.URL, normalized, extracted, classification)
	created, err := service.CreateNode(i.conn, node)
	if err != nil {
		log.Error("persist failed", logger.Err(err), logger.Duration("took", time.Since(start)))
		if errors.Is(err, service.ErrDuplicateNode) {
			return nil, &Error{Code: CodeDuplicate, Message: err.Error()}
		}
		return nil, &Error{Code: CodeStorageFailed, Message: fmt.Sprintf("failed to save record: %v", err)}
	}
	log.Info("node created", logger.Uint("node_id", created.ID))

	result := &Result{
		NodeID:         created.ID,
		Classification: *classification,
		Title:          extracted.Title,
		Description:    extracted.Description,
		Favicon:        extracted.Favicon,
		Image:          extracted.Image,
	}

	// Step 6: hierarchy codes. Not fatal: the record exists without codes
	// and they can be re-derived by enrichment.
	codes, err := service.DeriveHierarchyCodes(i.conn, created.ID)
	if err != nil || codes == nil {
		log.Warn("hierarchy code derivation failed", logger.Uint("node_id", created.ID), logger.Err(err))
	} else {
		result.Codes = *codes
	}

	// Step 7: schedule phase-two enrichment. Not fatal: the record exists
	// and can be enriched later via retry tooling.
	if !req.SkipEnrichment {
		i.scheduleEnrichment(result, req.Priority, log)
	}

	// Step 8: cache the normalized-URL mapping for future requests.
	i.cache.Set(req.URL, cache.Entry{
		NodeID:           created.ID,
		Category:         classification.Category,
		ContentType:      classification.ContentType,
		Organization:     classification.Organization,
		Confidence:       classification.Confidence,
		FunctionCode:     result.Codes.FunctionCode,
		OrganizationCode: result.Codes.OrganizationCode,
		Title:            extracted.Title,
		Description:      extracted.Description,
		Favicon:          extracted.Favicon,
		Image:            extracted.Image,
	})

	log.Info("import complete",
		logger.Uint("node_id", created.ID),
		logger.Bool("phase2_queued", result.Phase2Queued),
		logger.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (i *Importer) scheduleEnrichment(result *Result, priority int, log logger.Logger) {
	if i.enqueuer == nil {
		result.Phase2QueueError = "no queue configured"
		return
	}
	job, err := i.enqueuer.Enqueue(result.NodeID, db.PhaseEnrichment, priority)
	if err != nil {
		result.Phase2QueueError = err.Error()
		log.Warn("failed to schedule enrichment job",
			logger.Uint("node_id", result.NodeID),
			logger.Err(err),
		)
		return
	}
	result.Phase2Queued = true
	result.Phase2JobID = job.ID
}

// validateURL enforces step-1 validation: non-empty, parseable, http(s)
// scheme, non-empty host.
func validateURL(raw string) error {
	if raw == "" {
		return errors.New("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URL is not parseable: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

func nodeFromExtraction(rawURL, normalized string, ex *extractor.Result, cl *classify.Classification) *db.Node {
	return &db.Node{
		URL:           rawURL,
		NormalizedURL: normalized,
		Domain:        ex.Domain,
		Title:         ex.Title,
		Description:   ex.Description,
		Author:        ex.Author,
		SiteName:      ex.SiteName,
		Favicon:       ex.Favicon,
		Image:         ex.Image,
		Content:       ex.Content,
		ContentType:   ex.ContentType,
		Details:       extractor.MarshalDetails(ex.Details),
		Category:      cl.Category,
		Organization:  cl.Organization,
		Confidence:    cl.Confidence,
		Reasoning:     cl.Reasoning,
		ExtractorName: ex.Meta.Extractor,
		Fallback:      ex.Meta.Fallback,
	}
}

func cachedResult(entry *cache.Entry) *Result {
	return &Result{
		NodeID: entry.NodeID,
		Cached: true,
		Classification: classify.Classification{
			Category:     entry.Category,
			ContentType:  entry.ContentType,
			Organization: entry.Organization,
			Confidence:   entry.Confidence,
		},
		Codes: service.HierarchyCodes{
			FunctionCode:     entry.FunctionCode,
			OrganizationCode: entry.OrganizationCode,
		},
		Title:       entry.Title,
		Description: entry.Description,
		Favicon:     entry.Favicon,
		Image:       entry.Image,
	}
}
