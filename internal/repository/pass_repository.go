package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facefinder/internal/retry"
)

// PassLog is a persisted comparison pass.
type PassLog struct {
	ID             uint      `gorm:"primaryKey"`
	PassID         string    `gorm:"column:pass_id;uniqueIndex;size:64"`
	Owner          string    `gorm:"column:owner;index;size:128"`
	Status         string    `gorm:"column:status;size:16"`
	CandidateCount int       `gorm:"column:candidate_count"`
	ProcessedCount int       `gorm:"column:processed_count"`
	MatchedCount   int       `gorm:"column:matched_count"`
	ErrorMessage   string    `gorm:"column:error_message;type:text"`
	Results        string    `gorm:"column:results;type:text"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	StartedAt      time.Time `gorm:"column:started_at"`
	FinishedAt     time.Time `gorm:"column:finished_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PassLog) TableName() string {
	return "pass_logs"
}

// PassAggregation holds totals across an owner's recorded passes.
type PassAggregation struct {
	TotalCount        int64
	DoneCount         int64
	ErrorCount        int64
	ComparedCount     int64
	MatchedCount      int64
	AverageDurationMs float64
}

// PassRepository stores pass history in PostgreSQL.
type PassRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPassRepository creates a repository with the default retry policy.
func NewPassRepository(db *gorm.DB, logger *zap.Logger) *PassRepository {
	return &PassRepository{
		db:             db,
		logger:         logger.Named("pass_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PassRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&PassLog{})
	})
}

// SavePass persists a finished pass.
func (r *PassRepository) SavePass(ctx context.Context, log *PassLog) error {
	return r.executeWithRetry(ctx, "repository.save_pass", log.PassID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByPassIDAndOwner loads a pass that belongs to owner.
func (r *PassRepository) FindByPassIDAndOwner(ctx context.Context, passID, owner string) (*PassLog, error) {
	var log PassLog
	err := r.executeWithRetry(ctx, "repository.find_pass", passID, func() error {
		return r.db.WithContext(ctx).First(&log, "pass_id = ? AND owner = ?", passID, owner).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every recorded pass of owner. Compared and
// matched counts only include completed passes.
func (r *PassRepository) AggregateMetrics(ctx context.Context, owner string) (*PassAggregation, error) {
	var agg PassAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PassLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0) AS done_count,
				COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS error_count,
				COALESCE(SUM(CASE WHEN status = 'done' THEN processed_count ELSE 0 END), 0) AS compared_count,
				COALESCE(SUM(matched_count), 0) AS matched_count,
				COALESCE(AVG(duration_ms), 0) AS average_duration_ms`).
			Where("owner = ?", owner).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *PassRepository) executeWithRetry(ctx context.Context, operation, passID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, r.logger, policy, operation, passID, fn)
}
