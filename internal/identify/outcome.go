package identify

import (
	"context"
	"errors"
	"time"

	"cardscan/internal/candidate"
	"cardscan/pkg/geometry"
)

// ErrTimeout reports that an invocation ran past its time budget. The
// caller should drop the frame and submit a fresh one.
var ErrTimeout = errors.New("identification timed out")

// ErrHashMismatch means the frame hash and the catalog hashes were built
// with different grid sizes, usually after extractor.hash_grid changed
// without a forced ingest.
var ErrHashMismatch = errors.New("frame hash size does not match catalog")

// Stage is a step of one invocation.
type Stage int

const (
	StageReceived Stage = iota
	StageExtracting
	StageFiltering
	StageVerifying
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageExtracting:
		return "extracting"
	case StageFiltering:
		return "filtering"
	case StageVerifying:
		return "verifying"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Kind tags an Outcome so callers can branch without inspecting errors.
type Kind int

const (
	// KindNoMatch is a completed invocation that found no catalog card.
	KindNoMatch Kind = iota
	// KindMatched is a completed invocation with an accepted card.
	KindMatched
	// KindFailed carries an error in Outcome.Err.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindNoMatch:
		return "no_match"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MatchResult is the identification answer. An empty ID means no match.
type MatchResult struct {
	ID         string
	Confidence float64
	Inliers    int
	// Outline is the card quadrilateral in frame coordinates, when matched.
	Outline *geometry.Quad
}

// Found reports whether a card was identified.
func (r MatchResult) Found() bool {
	return r.ID != ""
}

// Trace records what an invocation did, for logs and diagnostics.
type Trace struct {
	CatalogVersion uint64
	Keypoints      int
	Located        bool // card outline found inside the frame
	Candidates     candidate.Set
	Evaluated      int
	EarlyExit      bool
	Extract        time.Duration
	Filter         time.Duration
	Verify         time.Duration
}

// Outcome is the terminal state of one invocation.
type Outcome struct {
	Kind   Kind
	Result MatchResult
	// Err is set only for KindFailed.
	Err error
	// Stage is StageCompleted or StageFailed.
	Stage Stage
	// FailedAt is the stage that was running when the invocation failed.
	FailedAt Stage
	Trace    Trace
}

// ScanEvent announces a completed identification of a card.
type ScanEvent struct {
	EventID    string
	CardID     string
	SessionID  string
	RequestID  string
	Confidence float64
	Inliers    int
	At         time.Time
}

// ScanRecorder receives one event per matched invocation. Implementations
// own any aggregate counters.
type ScanRecorder interface {
	RecordScan(ctx context.Context, ev ScanEvent) error
}
