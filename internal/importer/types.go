package importer

import (
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/service"
)

// ErrorCode is the stable machine-readable code carried by an Error.
type ErrorCode string

const (
	// CodeInvalidURL rejects requests whose URL fails validation.
	CodeInvalidURL ErrorCode = "invalid_url"
	// CodeExtractionFailed covers fetch and extraction failures.
	CodeExtractionFailed ErrorCode = "extraction_failed"
	// CodeDuplicate reports a normalized-URL collision at the storage layer.
	CodeDuplicate ErrorCode = "duplicate"
	// CodeStorageFailed covers other persistence failures.
	CodeStorageFailed ErrorCode = "storage_failed"
)

// Stage names a pipeline step about to run. Stages are reported through the
// Request's OnStage hook, in order, before the step starts.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageFetching    Stage = "fetching"
	StageClassifying Stage = "classifying"
	StageSaving      Stage = "saving"
)

// Request describes one import.
type Request struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	// Priority is applied to the phase-two enrichment job; zero means the
	// default priority.
	Priority int `json:"priority,omitempty"`
	// SkipEnrichment suppresses phase-two scheduling entirely.
	SkipEnrichment bool `json:"skip_enrichment,omitempty"`

	// OnStage, when set, is called synchronously as each pipeline stage
	// starts. Used by the batch manager for per-item progress.
	OnStage func(Stage) `json:"-"`
}

func (r Request) stage(s Stage) {
	if r.OnStage != nil {
		r.OnStage(s)
	}
}

// Result is the success outcome of an import. Exactly one of Result and
// Error is produced per request.
type Result struct {
	NodeID         uint                    `json:"node_id"`
	Cached         bool                    `json:"cached"`
	Classification classify.Classification `json:"classification"`
	Codes          service.HierarchyCodes  `json:"codes"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
	Image       string `json:"image,omitempty"`

	// Phase2Queued reports whether the enrichment job was scheduled. A
	// scheduling failure does not fail the import; Phase2QueueError explains
	// it.
	Phase2Queued     bool   `json:"phase2_queued"`
	Phase2JobID      uint   `json:"phase2_job_id,omitempty"`
	Phase2QueueError string `json:"phase2_queue_error,omitempty"`
}

// Error is the failure outcome of an import.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }
