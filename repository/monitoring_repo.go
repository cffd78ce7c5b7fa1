package repository

import (
	"context"
	"time"

	"github.com/crypto_gateway/model"
	"gorm.io/gorm"
)

type MonitoringJobRepository struct {
	db *gorm.DB
}

func NewMonitoringJobRepository(db *gorm.DB) *MonitoringJobRepository {
	return &MonitoringJobRepository{db: db}
}

// Due selects active jobs that were never checked or whose last check is
// older than the interval, oldest first, capped at limit.
func (r *MonitoringJobRepository) Due(ctx context.Context, interval time.Duration, limit int, now time.Time) ([]model.MonitoringJob, error) {
	var jobs []model.MonitoringJob
	stale := now.Add(-interval)
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("last_checked_at IS NULL OR last_checked_at < ?", stale).
		Order("last_checked_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// AdvanceCursor records a completed check. Failed checks never reach here,
// so a broken adapter call cannot corrupt the cursor.
func (r *MonitoringJobRepository) AdvanceCursor(ctx context.Context, id uint64, checkedAt time.Time, blockHash string, blockHeight int64) error {
	updates := map[string]interface{}{"last_checked_at": checkedAt}
	if blockHash != "" {
		updates["last_block_hash"] = blockHash
	}
	if blockHeight > 0 {
		updates["last_block_height"] = blockHeight
	}
	return r.db.WithContext(ctx).Model(&model.MonitoringJob{}).Where("id = ?", id).
		Updates(updates).Error
}

func (r *MonitoringJobRepository) FindByAddress(ctx context.Context, address string) (*model.MonitoringJob, error) {
	var job model.MonitoringJob
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
