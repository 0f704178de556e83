// Package enrich implements the phase-two enrichment applied to stored
// nodes: re-classify the stored content snapshot, refresh hierarchy codes
// and invalidate stale cache entries.
package enrich

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/service"
)

// Summary is the payload of the enrichment success notification.
type Summary struct {
	NodeID           uint    `json:"node_id"`
	Category         string  `json:"category"`
	Organization     string  `json:"organization"`
	Confidence       float64 `json:"confidence"`
	FunctionCode     string  `json:"function_code"`
	OrganizationCode string  `json:"organization_code"`
}

// Enricher runs the enrichment phase for processing-queue jobs.
type Enricher struct {
	conn       *gorm.DB
	classifier classify.Classifier
	cache      *cache.ImportCache
	log        logger.Logger
}

// New creates an enricher.
func New(conn *gorm.DB, classifier classify.Classifier, importCache *cache.ImportCache, log logger.Logger) *Enricher {
	return &Enricher{conn: conn, classifier: classifier, cache: importCache, log: log}
}

// Run re-classifies the node's stored content and refreshes its hierarchy
// codes. A node deleted since the job was enqueued completes as a no-op.
func (e *Enricher) Run(ctx context.Context, job *db.ProcessingJob) (interface{}, error) {
	node, err := service.GetNodeByID(e.conn, job.NodeID)
	if err != nil {
		return nil, fmt.Errorf("load node %d: %w", job.NodeID, err)
	}
	if node == nil {
		e.log.Warn("enrichment target no longer exists", logger.Uint("node_id", job.NodeID))
		return &Summary{NodeID: job.NodeID}, nil
	}

	classification, err := e.classifier.Classify(ctx, node.Title, node.URL, node.Content)
	if err != nil {
		return nil, fmt.Errorf("classify node %d: %w", node.ID, err)
	}

	// The enrichment pass only overwrites a result it improves on; a
	// first-pass classification with higher confidence stays.
	if classification.Confidence >= node.Confidence {
		if err := service.UpdateClassification(e.conn, node.ID,
			classification.Category,
			classification.Organization,
			classification.Confidence,
			classification.Reasoning,
		); err != nil {
			return nil, fmt.Errorf("update classification for node %d: %w", node.ID, err)
		}
	}

	codes, err := service.DeriveHierarchyCodes(e.conn, node.ID)
	if err != nil {
		return nil, fmt.Errorf("derive hierarchy codes for node %d: %w", node.ID, err)
	}

	// The cached first-pass summary is stale now.
	if e.cache != nil {
		e.cache.InvalidateNode(node.ID)
	}

	summary := &Summary{
		NodeID:       node.ID,
		Category:     classification.Category,
		Organization: classification.Organization,
		Confidence:   classification.Confidence,
	}
	if codes != nil {
		summary.FunctionCode = codes.FunctionCode
		summary.OrganizationCode = codes.OrganizationCode
	}

	e.log.Info("node enriched",
		logger.Uint("node_id", node.ID),
		logger.String("category", summary.Category),
		logger.Float64("confidence", summary.Confidence),
	)
	return summary, nil
}
