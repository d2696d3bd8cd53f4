package models

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:36;index" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Username   string    `gorm:"size:255;not null;unique" json:"username"`
	Email      string    `gorm:"size:255" json:"email"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u User) GetBusinessId() string {
	return u.BusinessId
}

type NewUser struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (input *NewUser) validate(ctx context.Context) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.ValidationError("invalid email")
	}
	// usernames are unique across businesses
	return utils.ValidateUnique[User](ctx, "", "username", input.Username, 0)
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	user := User{
		BusinessId: businessId,
		Name:       input.Name,
		Username:   html.EscapeString(strings.TrimSpace(input.Username)),
		Email:      input.Email,
		Password:   string(hashed),
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login checks credentials and returns a signed token.
func Login(ctx context.Context, input *LoginInput) (string, error) {
	var user User
	db := config.GetDB()

	skipCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(skipCtx).Where("username = ?", input.Username).First(&user).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return "", utils.ErrorAccessDenied
		}
		return "", err
	}

	if user.IsActive != nil && !*user.IsActive {
		return "", utils.ErrorAccessDenied
	}

	if err := utils.ComparePassword(user.Password, input.Password); err != nil {
		return "", utils.ErrorAccessDenied
	}

	return utils.JwtGenerate(user.ID, user.Username)
}

// GetUser fetches a user of the ctx business, redis first.
func GetUser(ctx context.Context, id int) (*User, error) {
	return GetResource[User](ctx, id)
}

// GetUserDisplayName resolves a user's name for read-time display.
// Missing users degrade to an empty string rather than failing the read.
func GetUserDisplayName(ctx context.Context, id int) string {
	if id == 0 {
		return ""
	}
	user, err := GetUser(ctx, id)
	if err != nil {
		return ""
	}
	return user.Name
}
