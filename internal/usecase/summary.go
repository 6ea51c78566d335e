package usecase

import "context"

// HistorySummary aggregates an owner's recorded passes.
type HistorySummary struct {
	TotalPasses        int64   `json:"total_passes"`
	DonePasses         int64   `json:"done_passes"`
	FailedPasses       int64   `json:"failed_passes"`
	ComparedCandidates int64   `json:"compared_candidates"`
	MatchedCandidates  int64   `json:"matched_candidates"`
	MatchRate          float64 `json:"match_rate"`
	AverageDurationMs  float64 `json:"average_duration_ms"`
}

// GetSummary aggregates pass history for owner.
func (uc *PassHistoryUseCase) GetSummary(ctx context.Context, owner string) (*HistorySummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx, owner)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{
		TotalPasses:        aggregation.TotalCount,
		DonePasses:         aggregation.DoneCount,
		FailedPasses:       aggregation.ErrorCount,
		ComparedCandidates: aggregation.ComparedCount,
		MatchedCandidates:  aggregation.MatchedCount,
		AverageDurationMs:  aggregation.AverageDurationMs,
	}
	if aggregation.ComparedCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.ComparedCount)
	}
	return summary, nil
}
