package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
)

type Business struct {
	ID          uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:50" json:"phone"`
	Address     string    `gorm:"type:text" json:"address"`
	AdminUserId int       `gorm:"index" json:"admin_user_id"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewBusiness struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (input *NewBusiness) validate() error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.ValidationError("invalid business email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.ValidationError("invalid business phone number")
		}
	}
	return nil
}

// CreateBusiness registers a business and makes the creating user its admin.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)

	business := Business{
		ID:          uuid.New(),
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		AdminUserId: userId,
		IsActive:    utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}

	// the creator now belongs to this business
	if userId != 0 {
		if err := db.WithContext(ctx).Model(&User{}).
			Where("id = ?", userId).
			Update("business_id", business.ID.String()).Error; err != nil {
			return nil, err
		}
	}

	return &business, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	var business Business
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &business, nil
}

// IsBusinessAdmin reports whether the user administers the ctx business.
func IsBusinessAdmin(ctx context.Context, userId int) (bool, error) {
	business, err := GetBusiness(ctx)
	if err != nil {
		return false, err
	}
	return business.AdminUserId == userId, nil
}
