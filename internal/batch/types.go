package batch

import "time"

// ItemStatus is the lifecycle state of one batch item.
type ItemStatus string

const (
	ItemQueued      ItemStatus = "queued"
	ItemValidating  ItemStatus = "validating"
	ItemFetching    ItemStatus = "fetching"
	ItemClassifying ItemStatus = "classifying"
	ItemSaving      ItemStatus = "saving"
	ItemImported    ItemStatus = "imported"
	ItemDuplicate   ItemStatus = "duplicate"
	ItemFailed      ItemStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s ItemStatus) Terminal() bool {
	return s == ItemImported || s == ItemDuplicate || s == ItemFailed
}

// Status is the lifecycle state of a whole batch.
type Status string

const (
	StatusImporting Status = "importing"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
)

// Options are the per-batch settings.
type Options struct {
	// MaxConcurrent bounds how many items are processed at once.
	MaxConcurrent int `json:"max_concurrent"`
	// SkipDuplicates marks cache-resident URLs duplicate without running
	// the import pipeline.
	SkipDuplicates bool `json:"skip_duplicates"`
	// AutoClassify enables the phase-two enrichment job per imported item.
	AutoClassify bool `json:"auto_classify"`
}

// Item tracks one URL through the batch.
type Item struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	// Line is the 1-based position in the submitted list, for user-facing
	// error correlation.
	Line     int        `json:"line"`
	Status   ItemStatus `json:"status"`
	Progress int        `json:"progress"`

	NodeID   uint   `json:"node_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Favicon  string `json:"favicon,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// State is a snapshot of a batch.
type State struct {
	ID          string     `json:"id"`
	Items       []*Item    `json:"items"`
	Options     Options    `json:"options"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stats aggregates item statuses on demand; it is never stored.
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// ComputeStats aggregates the item counts for a state snapshot.
func ComputeStats(items []*Item) Stats {
	stats := Stats{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case ItemQueued:
			stats.Queued++
		case ItemImported:
			stats.Imported++
		case ItemDuplicate:
			stats.Duplicates++
		case ItemFailed:
			stats.Failed++
		default:
			stats.InProgress++
		}
	}
	return stats
}

var stageProgress = map[ItemStatus]int{
	ItemQueued:      0,
	ItemValidating:  10,
	ItemFetching:    30,
	ItemClassifying: 60,
	ItemSaving:      85,
	ItemImported:    100,
	ItemDuplicate:   100,
	ItemFailed:      100,
}
