package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/facefinder/internal/logging"
	"github.com/example/facefinder/internal/repository"
	"github.com/example/facefinder/internal/retry"
	"github.com/example/facefinder/internal/screening"
)

const (
	passCacheTTL  = 30 * time.Minute
	recordTimeout = 10 * time.Second
)

// PassRepository defines the persistence operations needed by the use case.
type PassRepository interface {
	SavePass(ctx context.Context, log *repository.PassLog) error
	FindByPassIDAndOwner(ctx context.Context, passID, owner string) (*repository.PassLog, error)
	AggregateMetrics(ctx context.Context, owner string) (*repository.PassAggregation, error)
}

// PassRecord is a finished pass as returned to API clients.
type PassRecord struct {
	PassID         string                       `json:"pass_id"`
	Owner          string                       `json:"owner"`
	Status         string                       `json:"status"`
	ErrorMessage   string                       `json:"error_message,omitempty"`
	CandidateCount int                          `json:"candidate_count"`
	ProcessedCount int                          `json:"processed_count"`
	MatchedCount   int                          `json:"matched_count"`
	DurationMs     int64                        `json:"duration_ms"`
	StartedAt      time.Time                    `json:"started_at"`
	FinishedAt     time.Time                    `json:"finished_at"`
	Results        []screening.CandidateOutcome `json:"results"`
}

// PassHistoryUseCase records finished passes and serves them back. It is
// registered as a screening.Observer.
type PassHistoryUseCase struct {
	screening.NopObserver

	repo           PassRepository
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPassHistoryUseCase constructs the use case. cache may be nil.
func NewPassHistoryUseCase(repo PassRepository, cache Cache, logger *zap.Logger) *PassHistoryUseCase {
	return &PassHistoryUseCase{
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("pass_history_usecase"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// OnPassFinished records the pass. Passes abandoned by a clear are skipped.
func (uc *PassHistoryUseCase) OnPassFinished(ctx context.Context, summary screening.PassSummary) {
	opLogger := logging.WithOperation(uc.logger, "usecase.on_pass_finished", summary.PassID)
	if summary.Superseded {
		opLogger.Debug("skipping superseded pass")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := uc.RecordPass(ctx, summary); err != nil {
		opLogger.Error("failed to record pass", zap.Error(err))
	}
}

// RecordPass persists summary and caches it for fast lookups.
func (uc *PassHistoryUseCase) RecordPass(ctx context.Context, summary screening.PassSummary) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.record_pass", summary.PassID)

	record := recordFromSummary(summary)
	results, err := json.Marshal(record.Results)
	if err != nil {
		return logging.NewOperationError("usecase.encode_results", summary.PassID, err)
	}

	log := &repository.PassLog{
		PassID:         record.PassID,
		Owner:          record.Owner,
		Status:         record.Status,
		CandidateCount: record.CandidateCount,
		ProcessedCount: record.ProcessedCount,
		MatchedCount:   record.MatchedCount,
		ErrorMessage:   record.ErrorMessage,
		Results:        string(results),
		DurationMs:     record.DurationMs,
		StartedAt:      record.StartedAt,
		FinishedAt:     record.FinishedAt,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.repo.SavePass(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_pass", summary.PassID, err)
		opLogger.Error("failed to persist pass", zap.Error(wrapped))
		return wrapped
	}

	if err := uc.cacheRecord(ctx, record); err != nil {
		opLogger.Warn("failed to cache pass", zap.Error(err))
	}
	return nil
}

// GetPass returns owner's pass from the cache, falling back to the database.
func (uc *PassHistoryUseCase) GetPass(ctx context.Context, owner, passID string) (*PassRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_pass", passID)

	if uc.cache != nil {
		cached, err := uc.withCacheGet(ctx, passID, "cache.get.pass", passKey(passID))
		switch {
		case err == nil:
			var record PassRecord
			if err := json.Unmarshal([]byte(cached), &record); err != nil {
				opLogger.Warn("failed to decode cached pass", zap.Error(err))
			} else if record.Owner == owner {
				return &record, nil
			}
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	log, err := uc.repo.FindByPassIDAndOwner(ctx, passID, owner)
	if err != nil {
		return nil, err
	}
	record, err := recordFromLog(log)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_results", passID, err)
	}
	if err := uc.cacheRecord(ctx, record); err != nil {
		opLogger.Warn("failed to backfill cache", zap.Error(err))
	}
	return record, nil
}

func (uc *PassHistoryUseCase) cacheRecord(ctx context.Context, record *PassRecord) error {
	if uc.cache == nil {
		return nil
	}
	serialized, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return uc.withCacheRetry(ctx, record.PassID, "cache.set.pass", func() error {
		return uc.cache.Set(ctx, passKey(record.PassID), string(serialized), passCacheTTL)
	})
}

func (uc *PassHistoryUseCase) withCacheRetry(ctx context.Context, passID, operation string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       uc.retryAttempts,
		InitialBackoff: uc.initialBackoff,
		MaxBackoff:     uc.maxBackoff,
	}
	return retry.Do(ctx, uc.logger, policy, operation, passID, fn)
}

func (uc *PassHistoryUseCase) withCacheGet(ctx context.Context, passID, operation, key string) (string, error) {
	var (
		result string
		miss   bool
	)
	err := uc.withCacheRetry(ctx, passID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}

func passKey(passID string) string {
	return fmt.Sprintf("pass:%s", passID)
}

func recordFromSummary(summary screening.PassSummary) *PassRecord {
	results := summary.Results
	if results == nil {
		results = []screening.CandidateOutcome{}
	}
	matched := summary.MatchedCount
	if summary.Status != screening.StatusDone {
		matched = 0
	}
	return &PassRecord{
		PassID:         summary.PassID,
		Owner:          summary.Owner,
		Status:         string(summary.Status),
		ErrorMessage:   summary.ErrorMessage,
		CandidateCount: summary.CandidateCount,
		ProcessedCount: summary.ProcessedCount,
		MatchedCount:   matched,
		DurationMs:     summary.Duration().Milliseconds(),
		StartedAt:      summary.StartedAt.UTC(),
		FinishedAt:     summary.FinishedAt.UTC(),
		Results:        results,
	}
}

func recordFromLog(log *repository.PassLog) (*PassRecord, error) {
	record := &PassRecord{
		PassID:         log.PassID,
		Owner:          log.Owner,
		Status:         log.Status,
		ErrorMessage:   log.ErrorMessage,
		CandidateCount: log.CandidateCount,
		ProcessedCount: log.ProcessedCount,
		MatchedCount:   log.MatchedCount,
		DurationMs:     log.DurationMs,
		StartedAt:      log.StartedAt,
		FinishedAt:     log.FinishedAt,
		Results:        []screening.CandidateOutcome{},
	}
	if log.Results != "" {
		if err := json.Unmarshal([]byte(log.Results), &record.Results); err != nil {
			return nil, err
		}
	}
	return record, nil
}
