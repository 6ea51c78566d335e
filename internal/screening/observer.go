package screening

import (
	"context"
	"time"
)

// PassInfo describes a pass that has just started.
type PassInfo struct {
	PassID     string
	Owner      string
	Candidates int
}

// CandidateOutcome is the condensed result of one comparison.
type CandidateOutcome struct {
	Index      int     `json:"index"`
	Matched    bool    `json:"matched"`
	Similarity float32 `json:"similarity,omitempty"`
	FaceCount  int     `json:"face_matches"`
}

func outcomeOf(index int, result MatchResult) CandidateOutcome {
	return CandidateOutcome{
		Index:      index,
		Matched:    result.Matched,
		Similarity: result.BestSimilarity(),
		FaceCount:  len(result.RawMatches),
	}
}

// PassSummary describes a pass once it has stopped. Superseded is set when
// the workspace was cleared while the pass ran; such a pass never touched the
// workspace state after the clear. MatchedCount mirrors the workspace and is
// zero unless the pass completed; partial matches stay visible in Results.
type PassSummary struct {
	PassID         string
	Owner          string
	Status         Status
	ErrorMessage   string
	CandidateCount int
	ProcessedCount int
	MatchedCount   int
	Superseded     bool
	StartedAt      time.Time
	FinishedAt     time.Time
	Results        []CandidateOutcome
}

// Duration is the wall time the pass took.
func (s PassSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Observer is notified as a pass progresses. Calls for a single pass arrive
// from one goroutine, in order, and never while the workspace lock is held.
type Observer interface {
	OnPassStarted(ctx context.Context, info PassInfo)
	OnCandidateCompared(ctx context.Context, passID string, outcome CandidateOutcome, elapsed time.Duration)
	OnPassFinished(ctx context.Context, summary PassSummary)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks you need.
type NopObserver struct{}

func (NopObserver) OnPassStarted(context.Context, PassInfo) {}

func (NopObserver) OnCandidateCompared(context.Context, string, CandidateOutcome, time.Duration) {}

func (NopObserver) OnPassFinished(context.Context, PassSummary) {}

// Observers fans notifications out to each observer in order.
type Observers []Observer

func (o Observers) OnPassStarted(ctx context.Context, info PassInfo) {
	for _, obs := range o {
		obs.OnPassStarted(ctx, info)
	}
}

func (o Observers) OnCandidateCompared(ctx context.Context, passID string, outcome CandidateOutcome, elapsed time.Duration) {
	for _, obs := range o {
		obs.OnCandidateCompared(ctx, passID, outcome, elapsed)
	}
}

func (o Observers) OnPassFinished(ctx context.Context, summary PassSummary) {
	for _, obs := range o {
		obs.OnPassFinished(ctx, summary)
	}
}
