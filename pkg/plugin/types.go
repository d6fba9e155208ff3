package plugin

import (
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

// MaxCandidates is the number of top-scored candidates retained per search
// (§3, §4.J).
const MaxCandidates = 5

// MaxAttempts is the cap on fallback download attempts per search (§4.J).
const MaxAttempts = 5

// Timing constants (§4.J, §5).
const (
	EarlyTrigger   = 15 * time.Second
	LateTrigger    = 30 * time.Second
	EarlyThreshold = 100 // strict >
	LateThreshold  = 50  // strict >
	StallGrace     = 60 * time.Second
	SearchCeiling  = 5 * time.Minute
)

// Adaptive poll intervals (§4.J).
const (
	ActiveInterval = 2 * time.Second
	IdleInterval   = 10 * time.Second
	SleepInterval  = 30 * time.Second
	IdleThreshold  = 30 * time.Second
	SleepThreshold = 5 * time.Minute
)

// candidate pairs a scored search result with its score.
type candidate struct {
	result p2pclient.SearchResult
	score  int
}

// activeSearch is the J-local Active Search (§3).
type activeSearch struct {
	token       string
	request     queuestore.Request
	candidates  []candidate // sorted descending by score, len <= MaxCandidates
	attempt     int         // -1 = not yet downloading; 0..MaxAttempts-1 = candidate index in flight
	startedAt   time.Time
	lastDLPath  string
	albumFolder string // resolved target_folder for album batches, once known
}

// activeDownload is the J-local Active Download (§3): correlates a
// transfer's virtual path back to the search that started it, plus the
// bookkeeping the stall monitor needs.
type activeDownload struct {
	token          string
	virtualPath    string
	startedAt      time.Time
	lastBytesDone  int64
	lastProgressAt time.Time
}
