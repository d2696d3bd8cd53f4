package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"gorm.io/gorm"
)

// History is the immutable audit row written after each lifecycle action.
// Before/After hold JSON snapshots of the touched aggregate.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:36;index;not null" json:"business_id"`
	UserId        int       `json:"user_id"`
	UserName      string    `gorm:"size:255" json:"user_name"`
	ActionType    string    `gorm:"size:50;not null" json:"action_type"`
	ReferenceId   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:100;index" json:"reference_type"`
	Before        string    `gorm:"type:json" json:"before"`
	After         string    `gorm:"type:json" json:"after"`
	Description   string    `gorm:"type:text" json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// createHistory snapshots before/after onto a history row inside tx.
// before and after may be nil.
func createHistory(ctx context.Context, tx *gorm.DB, actionType string, referenceId int, referenceType string, before any, after any, description string) error {

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	history := History{
		BusinessId:    businessId,
		UserId:        userId,
		UserName:      userName,
		ActionType:    actionType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Description:   description,
	}

	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return err
		}
		history.Before = string(b)
	}
	if after != nil {
		a, err := json.Marshal(after)
		if err != nil {
			return err
		}
		history.After = string(a)
	}

	return tx.Create(&history).Error
}

// GetHistories lists audit rows of one record, newest first.
func GetHistories(ctx context.Context, referenceType string, referenceId int) ([]*History, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	var histories []*History
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id DESC").
		Find(&histories).Error
	if err != nil {
		return nil, err
	}
	return histories, nil
}
