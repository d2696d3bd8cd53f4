package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
)

// UserActivity is both the activity feed row and the outbox row for
// Pub/Sub fan-out. The dispatcher drains PENDING rows in id order.
type UserActivity struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	BusinessId    string              `gorm:"size:36;index;not null" json:"business_id"`
	ProjectId     int                 `gorm:"index" json:"project_id"`
	UserId        int                 `json:"user_id"`
	UserName      string              `gorm:"size:255" json:"user_name"`
	Action        string              `gorm:"size:50;not null" json:"action"`
	ReferenceId   int                 `gorm:"index" json:"reference_id"`
	ReferenceType string              `gorm:"size:100;index" json:"reference_type"`
	Severity      ActivitySeverity    `gorm:"type:enum('INFO','WARNING','CRITICAL');not null;default:INFO" json:"severity"`
	Success       *bool               `gorm:"not null;default:true" json:"success"`
	Metadata      string              `gorm:"type:json" json:"metadata"`
	CorrelationId string              `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus OutboxPublishStatus `gorm:"type:enum('PENDING','SENT','FAILED');not null;default:PENDING;index" json:"publish_status"`
	PublishedAt   *time.Time          `json:"published_at"`
	AttemptCount  int                 `gorm:"not null;default:0" json:"attempt_count"`
	LastError     *string             `gorm:"type:text" json:"last_error,omitempty"`
	LockedAt      *time.Time          `json:"locked_at,omitempty"`
	LockedBy      *string             `gorm:"size:64" json:"locked_by,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

type activityRecord struct {
	Action        string
	ReferenceId   int
	ReferenceType string
	ProjectId     int
	Severity      ActivitySeverity
	Success       bool
	Metadata      map[string]any
	Description   string
	Before        any
	After         any
}

// recordActivity persists the audit trail and the outbox row after the
// business transaction committed. Failures here are logged and dropped so a
// committed state change is never rolled back by its bookkeeping.
func recordActivity(ctx context.Context, rec activityRecord) {
	logger := config.GetLogger()
	db := config.GetDB()

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	if err := createHistory(ctx, db.WithContext(ctx), rec.Action, rec.ReferenceId, rec.ReferenceType, rec.Before, rec.After, rec.Description); err != nil {
		config.LogError(logger, "userActivity", "recordActivity", "create history", rec.ReferenceId, err)
	}

	severity := rec.Severity
	if severity == "" {
		severity = ActivitySeverityInfo
	}

	var metadata string
	if rec.Metadata != nil {
		if b, err := json.Marshal(rec.Metadata); err == nil {
			metadata = string(b)
		} else {
			config.LogError(logger, "userActivity", "recordActivity", "marshal metadata", rec.ReferenceId, err)
		}
	}

	activity := UserActivity{
		BusinessId:    businessId,
		ProjectId:     rec.ProjectId,
		UserId:        userId,
		UserName:      userName,
		Action:        rec.Action,
		ReferenceId:   rec.ReferenceId,
		ReferenceType: rec.ReferenceType,
		Severity:      severity,
		Success:       &rec.Success,
		Metadata:      metadata,
		CorrelationId: correlationId,
		PublishStatus: OutboxPublishStatusPending,
	}

	if err := db.WithContext(ctx).Create(&activity).Error; err != nil {
		config.LogError(logger, "userActivity", "recordActivity", "create activity", rec.ReferenceId, err)
	}
}

// GetProjectActivities lists the feed of one project, newest first.
func GetProjectActivities(ctx context.Context, projectId int, limit int) ([]*UserActivity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var activities []*UserActivity
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND project_id = ?", businessId, projectId).
		Order("id DESC").
		Limit(limit).
		Find(&activities).Error
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// ToMessage maps an outbox row onto the Pub/Sub wire shape.
func (a *UserActivity) ToMessage() config.ActivityMessage {
	return config.ActivityMessage{
		ID:            a.ID,
		BusinessId:    a.BusinessId,
		ProjectId:     a.ProjectId,
		OccurredAt:    a.CreatedAt,
		ReferenceId:   a.ReferenceId,
		ReferenceType: a.ReferenceType,
		Action:        a.Action,
		ActorId:       a.UserId,
		ActorName:     a.UserName,
		Severity:      string(a.Severity),
		Success:       a.Success != nil && *a.Success,
		Metadata:      []byte(a.Metadata),
		CorrelationId: a.CorrelationId,
	}
}
