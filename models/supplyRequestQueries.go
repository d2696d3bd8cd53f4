package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SupplyRequestFilter struct {
	Status      *SupplyRequestStatus   `json:"status" form:"status"`
	Priority    *SupplyRequestPriority `json:"priority" form:"priority"`
	RequestedBy *int                   `json:"requested_by" form:"requested_by"`
	OverdueOnly bool                   `json:"overdue_only" form:"overdue_only"`
	Search      string                 `json:"search" form:"search"`
}

type SupplyRequestPage struct {
	Requests []*SupplyRequest     `json:"requests"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
	Summary  *SupplyRequestSummary `json:"summary"`
}

// SupplyRequestSummary is the header block above the list view.
type SupplyRequestSummary struct {
	TotalCount         int64           `json:"total_count"`
	PendingCount       int64           `json:"pending_count"`
	ApprovedCount      int64           `json:"approved_count"`
	OrderedCount       int64           `json:"ordered_count"`
	InDeliveryCount    int64           `json:"in_delivery_count"`
	DeliveredCount     int64           `json:"delivered_count"`
	RejectedCount      int64           `json:"rejected_count"`
	CancelledCount     int64           `json:"cancelled_count"`
	OverdueCount       int64           `json:"overdue_count"`
	TotalEstimatedCost decimal.Decimal `json:"total_estimated_cost"`
	TotalApprovedCost  decimal.Decimal `json:"total_approved_cost"`
	LastRequestAt      *time.Time      `json:"last_request_at"`
}

func applySupplyRequestFilter(dbCtx *gorm.DB, filter *SupplyRequestFilter) (*gorm.DB, error) {
	if filter == nil {
		return dbCtx, nil
	}
	if filter.Status != nil {
		if !filter.Status.Valid() {
			return nil, utils.ValidationError("invalid status filter %s", *filter.Status)
		}
		dbCtx = dbCtx.Where("current_status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		if !filter.Priority.Valid() {
			return nil, utils.ValidationError("invalid priority filter %s", *filter.Priority)
		}
		dbCtx = dbCtx.Where("priority = ?", *filter.Priority)
	}
	if filter.RequestedBy != nil {
		dbCtx = dbCtx.Where("requested_by = ?", *filter.RequestedBy)
	}
	if filter.OverdueOnly {
		dbCtx = dbCtx.Where(
			"required_date IS NOT NULL AND required_date < ? AND current_status NOT IN ?",
			time.Now(),
			[]SupplyRequestStatus{
				SupplyRequestStatusDelivered,
				SupplyRequestStatusCancelled,
			})
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		dbCtx = dbCtx.Where("request_number LIKE ? OR name LIKE ? OR description LIKE ?", like, like, like)
	}
	return dbCtx, nil
}

// PaginateProjectSupplyRequests lists a project's requests newest first with
// filters, a total for paging, and the summary block.
func PaginateProjectSupplyRequests(ctx context.Context, projectId int, filter *SupplyRequestFilter, page int, limit int) (*SupplyRequestPage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	access, err := ResolveProjectAccess(ctx, projectId, userId)
	if err != nil {
		return nil, err
	}
	if !access.IsAssigned && !access.IsBusinessAdmin {
		return nil, utils.ErrorAccessDenied
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	db := config.GetDB()
	base := db.WithContext(ctx).Model(&SupplyRequest{}).
		Where("business_id = ? AND project_id = ? AND is_deleted = false", businessId, projectId)

	filtered, err := applySupplyRequestFilter(base, filter)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := filtered.Count(&total).Error; err != nil {
		return nil, err
	}

	var requests []*SupplyRequest
	err = filtered.
		Preload("Items").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}

	summary, err := getSupplyRequestSummary(ctx, businessId, projectId)
	if err != nil {
		return nil, err
	}

	return &SupplyRequestPage{
		Requests: requests,
		Total:    total,
		Page:     page,
		Limit:    limit,
		Summary:  summary,
	}, nil
}

func getSupplyRequestSummary(ctx context.Context, businessId string, projectId int) (*SupplyRequestSummary, error) {
	db := config.GetDB()

	var row struct {
		TotalCount         int64
		PendingCount       int64
		ApprovedCount      int64
		OrderedCount       int64
		InDeliveryCount    int64
		DeliveredCount     int64
		RejectedCount      int64
		CancelledCount     int64
		OverdueCount       int64
		TotalEstimatedCost decimal.Decimal
		TotalApprovedCost  decimal.Decimal
		LastRequestAt      *time.Time
	}

	err := db.WithContext(ctx).Model(&SupplyRequest{}).
		Select(`
			COUNT(*) AS total_count,
			SUM(CASE WHEN current_status = 'PENDING' THEN 1 ELSE 0 END) AS pending_count,
			SUM(CASE WHEN current_status = 'APPROVED' THEN 1 ELSE 0 END) AS approved_count,
			SUM(CASE WHEN current_status = 'ORDERED' THEN 1 ELSE 0 END) AS ordered_count,
			SUM(CASE WHEN current_status = 'PARTIALLY_DELIVERED' THEN 1 ELSE 0 END) AS in_delivery_count,
			SUM(CASE WHEN current_status = 'DELIVERED' THEN 1 ELSE 0 END) AS delivered_count,
			SUM(CASE WHEN current_status = 'REJECTED' THEN 1 ELSE 0 END) AS rejected_count,
			SUM(CASE WHEN current_status = 'CANCELLED' THEN 1 ELSE 0 END) AS cancelled_count,
			SUM(CASE WHEN required_date IS NOT NULL AND required_date < NOW()
				AND current_status NOT IN ('DELIVERED', 'CANCELLED')
				THEN 1 ELSE 0 END) AS overdue_count,
			COALESCE(SUM(total_estimated_cost), 0) AS total_estimated_cost,
			COALESCE(SUM(total_approved_cost), 0) AS total_approved_cost,
			MAX(requested_date) AS last_request_at`).
		Where("business_id = ? AND project_id = ? AND is_deleted = false", businessId, projectId).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &SupplyRequestSummary{
		TotalCount:         row.TotalCount,
		PendingCount:       row.PendingCount,
		ApprovedCount:      row.ApprovedCount,
		OrderedCount:       row.OrderedCount,
		InDeliveryCount:    row.InDeliveryCount,
		DeliveredCount:     row.DeliveredCount,
		RejectedCount:      row.RejectedCount,
		CancelledCount:     row.CancelledCount,
		OverdueCount:       row.OverdueCount,
		TotalEstimatedCost: row.TotalEstimatedCost,
		TotalApprovedCost:  row.TotalApprovedCost,
		LastRequestAt:      row.LastRequestAt,
	}, nil
}
