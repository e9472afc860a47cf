package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
)

const maxDLQErrorLen = 1024

// DLQRepository stores outbox rows the publisher gave up on. Rows are kept
// for operator replay until the retention job ages them out.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		msg := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// DeleteFailedBefore removes dead letters that failed before cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).Where("failed_at < ?", cutoff.UTC()).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// CountByReason returns the dead-letter backlog per reason. Every known
// reason is present in the result, zero when it has no rows.
func (r *DLQRepository) CountByReason(ctx context.Context, tx *gorm.DB) (map[enums.OutboxDLQErrorReason]int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	var rows []struct {
		ErrorReason enums.OutboxDLQErrorReason
		Total       int64
	}
	err := conn.WithContext(ctx).Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS total").
		Group("error_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[enums.OutboxDLQErrorReason]int64{
		enums.OutboxDLQReasonMaxAttempts:  0,
		enums.OutboxDLQReasonNonRetryable: 0,
		enums.OutboxDLQReasonUnroutable:   0,
	}
	for _, row := range rows {
		out[row.ErrorReason] = row.Total
	}
	return out, nil
}
