package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
)

// Equipment is the per-tenant catalog a supply request draws its line items
// from. Name, category and unit cost are snapshotted onto items at request
// time so later catalog edits do not rewrite history.
type Equipment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:36;index;not null" json:"business_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	Category      string          `gorm:"size:255" json:"category"`
	UnitOfMeasure string          `gorm:"size:50" json:"unit_of_measure"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (e Equipment) GetBusinessId() string {
	return e.BusinessId
}

type NewEquipment struct {
	Name          string          `json:"name" binding:"required"`
	Category      string          `json:"category"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
}

func CreateEquipment(ctx context.Context, input *NewEquipment) (*Equipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	if input.UnitCost.IsNegative() {
		return nil, utils.ValidationError("unit cost cannot be negative")
	}

	equipment := Equipment{
		BusinessId:    businessId,
		Name:          input.Name,
		Category:      input.Category,
		UnitOfMeasure: input.UnitOfMeasure,
		UnitCost:      input.UnitCost,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&equipment).Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedis[Equipment](businessId, equipment.ID); err != nil {
		config.LogError(config.GetLogger(), "equipment", "CreateEquipment", "clear cache", equipment.ID, err)
	}

	return &equipment, nil
}

// GetEquipment fetches a catalog entry of the ctx business, redis first.
func GetEquipment(ctx context.Context, id int) (*Equipment, error) {
	return GetResource[Equipment](ctx, id)
}

func GetAllEquipment(ctx context.Context) ([]*Equipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	results, err := utils.RetrieveRedisList[Equipment](businessId)
	if err != nil {
		return nil, err
	}
	if results != nil {
		return results, nil
	}

	results, err = utils.FetchAllModels[Equipment](ctx, businessId)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedisList[Equipment](results, businessId); err != nil {
		return nil, err
	}
	return results, nil
}
