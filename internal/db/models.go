package db

import "time"

// ContentType is the coarse content family of an ingested page.
type ContentType string

const (
	ContentArticle ContentType = "article"
	ContentVideo   ContentType = "video"
	ContentRepo    ContentType = "repo"
	ContentSocial  ContentType = "social"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobFailed     JobStatus = "failed"
)

// JobPhase names the work a processing job performs.
type JobPhase string

// PhaseEnrichment is the second-pass enrichment applied to a stored node.
const PhaseEnrichment JobPhase = "enrichment"

// Node is a persisted record created from one imported URL.
type Node struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	URL           string `gorm:"not null;size:2048" json:"url"`
	NormalizedURL string `gorm:"uniqueIndex;not null;size:768" json:"normalized_url"`
	Domain        string `gorm:"index;size:255" json:"domain"`

	Title       string `gorm:"size:512" json:"title"`
	Description string `gorm:"size:2048" json:"description"`
	Author      string `gorm:"size:255" json:"author"`
	SiteName    string `gorm:"size:255" json:"site_name"`
	Favicon     string `gorm:"size:1024" json:"favicon"`
	Image       string `gorm:"size:1024" json:"image"`
	// Content is a bounded plain-text snapshot used for classification and
	// re-classification by the enrichment phase.
	Content string `gorm:"type:text" json:"content"`

	ContentType ContentType `gorm:"size:32" json:"content_type"`
	// Details holds the content-family specific field bag as JSON
	// (video duration, repo stars, post handle, ...).
	Details string `gorm:"type:text" json:"details"`

	Category     string  `gorm:"size:64" json:"category"`
	Organization string  `gorm:"size:255" json:"organization"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `gorm:"size:1024" json:"reasoning"`

	FunctionCode     string `gorm:"size:32" json:"function_code"`
	OrganizationCode string `gorm:"size:32" json:"organization_code"`

	ExtractorName string `gorm:"size:64" json:"extractor_name"`
	Fallback      bool   `json:"fallback"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingJob is one durable row of background work against a node. The
// table is the source of truth for the processing queue; in-memory state is
// only per-process claim bookkeeping.
type ProcessingJob struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	NodeID      uint      `gorm:"index" json:"node_id"`
	Phase       JobPhase  `gorm:"size:32;default:'enrichment'" json:"phase"`
	Status      JobStatus `gorm:"index;size:16;default:'pending'" json:"status"`
	Priority    int       `gorm:"index" json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `gorm:"size:2048" json:"last_error"`
	// RetryAfter is informational: reclaim eligibility is governed by the
	// poll interval, not by this timestamp.
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// User represents an authenticated user.
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:100" json:"username"`
	Password  string    `gorm:"not null;size:255" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
