package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityOutboxDispatcher drains PENDING activity rows to Pub/Sub. Rows stay
// in the table as the activity feed; only their publish state changes.
type ActivityOutboxDispatcher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
}

func NewActivityOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *ActivityOutboxDispatcher {
	return &ActivityOutboxDispatcher{
		DB:          db,
		Logger:      logger,
		WorkerID:    "dispatch-" + time.Now().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 10,
	}
}

// shouldRunActivityDispatcher defaults to on; rows just accumulate in
// PENDING otherwise. Disable with ACTIVITY_DISPATCH=false when no Pub/Sub
// project is reachable (local dev without emulator).
func shouldRunActivityDispatcher() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("ACTIVITY_DISPATCH")))
	if val == "false" {
		return false
	}
	return true
}

func (d *ActivityOutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *ActivityOutboxDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTTL)

	var claimed []models.UserActivity
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status = ?", models.OutboxPublishStatusPending).
			Where("attempt_count < ?", d.MaxAttempts).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.WorkerID
			if err := tx.Model(&models.UserActivity{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, activity := range claimed {
		_, err := config.PublishActivity(ctx, activity.ToMessage())
		if err != nil {
			errMsg := err.Error()
			status := models.OutboxPublishStatusPending
			if activity.AttemptCount+1 >= d.MaxAttempts {
				status = models.OutboxPublishStatusFailed
			}
			_ = d.DB.WithContext(ctx).Model(&models.UserActivity{}).
				Where("id = ?", activity.ID).
				Updates(map[string]interface{}{
					"publish_status": status,
					"attempt_count":  gorm.Expr("attempt_count + 1"),
					"last_error":     &errMsg,
					"locked_at":      nil,
					"locked_by":      nil,
				}).Error
			if d.Logger != nil {
				d.Logger.WithFields(logrus.Fields{
					"field":          "ActivityOutboxDispatcher",
					"business_id":    activity.BusinessId,
					"reference_type": activity.ReferenceType,
					"reference_id":   activity.ReferenceId,
					"activity_id":    activity.ID,
				}).Error("activity publish failed: " + errMsg)
			}
			continue
		}

		_ = d.DB.WithContext(ctx).Model(&models.UserActivity{}).
			Where("id = ?", activity.ID).
			Updates(map[string]interface{}{
				"publish_status": models.OutboxPublishStatusSent,
				"published_at":   time.Now().UTC(),
				"attempt_count":  gorm.Expr("attempt_count + 1"),
				"locked_at":      nil,
				"locked_by":      nil,
			}).Error
	}
}
