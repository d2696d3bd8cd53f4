package models

import (
	"context"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
)

type SupplyRequestStats struct {
	StatusTotals   []StatusTotal    `json:"status_totals"`
	PriorityTotals []PriorityTotal  `json:"priority_totals"`
	TopEquipment   []EquipmentUsage `json:"top_equipment"`

	// AvgApprovalDays is create -> approve, AvgDeliveryDays approve -> full
	// delivery, both over completed samples only.
	AvgApprovalDays *decimal.Decimal `json:"avg_approval_days"`
	AvgDeliveryDays *decimal.Decimal `json:"avg_delivery_days"`

	// CostSavings is estimated minus actual across delivered requests.
	// Negative means overruns.
	CostSavings decimal.Decimal `json:"cost_savings"`
}

type StatusTotal struct {
	Status        SupplyRequestStatus `json:"status"`
	Count         int64               `json:"count"`
	EstimatedCost decimal.Decimal     `json:"estimated_cost"`
}

type PriorityTotal struct {
	Priority SupplyRequestPriority `json:"priority"`
	Count    int64                 `json:"count"`
}

type EquipmentUsage struct {
	EquipmentId       int             `json:"equipment_id"`
	EquipmentName     string          `json:"equipment_name"`
	RequestCount      int64           `json:"request_count"`
	QuantityRequested decimal.Decimal `json:"quantity_requested"`
	QuantityDelivered decimal.Decimal `json:"quantity_delivered"`
}

// GetProjectSupplyRequestStats aggregates one project's procurement history
// for the dashboard.
func GetProjectSupplyRequestStats(ctx context.Context, projectId int) (*SupplyRequestStats, error) {
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

	db := config.GetDB()
	stats := SupplyRequestStats{}

	err = db.WithContext(ctx).Model(&SupplyRequest{}).
		Select("current_status AS status, COUNT(*) AS count, COALESCE(SUM(total_estimated_cost), 0) AS estimated_cost").
		Where("business_id = ? AND project_id = ? AND is_deleted = false", businessId, projectId).
		Group("current_status").
		Scan(&stats.StatusTotals).Error
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Model(&SupplyRequest{}).
		Select("priority, COUNT(*) AS count").
		Where("business_id = ? AND project_id = ? AND is_deleted = false", businessId, projectId).
		Group("priority").
		Scan(&stats.PriorityTotals).Error
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Model(&SupplyRequestItem{}).
		Select(`supply_request_items.equipment_id,
			supply_request_items.equipment_name,
			COUNT(DISTINCT supply_request_items.supply_request_id) AS request_count,
			COALESCE(SUM(supply_request_items.quantity_requested), 0) AS quantity_requested,
			COALESCE(SUM(supply_request_items.quantity_delivered), 0) AS quantity_delivered`).
		Joins("JOIN supply_requests ON supply_requests.id = supply_request_items.supply_request_id").
		Where("supply_requests.business_id = ? AND supply_requests.project_id = ? AND supply_requests.is_deleted = false",
			businessId, projectId).
		Group("supply_request_items.equipment_id, supply_request_items.equipment_name").
		Order("quantity_requested DESC").
		Limit(10).
		Scan(&stats.TopEquipment).Error
	if err != nil {
		return nil, err
	}

	var cycle struct {
		AvgApprovalDays *decimal.Decimal
		AvgDeliveryDays *decimal.Decimal
	}
	err = db.WithContext(ctx).Model(&SupplyRequest{}).
		Select(`
			AVG(CASE WHEN approved_at IS NOT NULL AND current_status <> 'REJECTED'
				THEN TIMESTAMPDIFF(HOUR, created_at, approved_at) / 24.0 END) AS avg_approval_days,
			AVG(CASE WHEN delivered_at IS NOT NULL AND approved_at IS NOT NULL
				THEN TIMESTAMPDIFF(HOUR, approved_at, delivered_at) / 24.0 END) AS avg_delivery_days`).
		Where("business_id = ? AND project_id = ? AND is_deleted = false", businessId, projectId).
		Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	stats.AvgApprovalDays = cycle.AvgApprovalDays
	stats.AvgDeliveryDays = cycle.AvgDeliveryDays

	var savings struct {
		CostSavings decimal.Decimal
	}
	err = db.WithContext(ctx).Model(&SupplyRequest{}).
		Select("COALESCE(SUM(total_estimated_cost - actual_cost), 0) AS cost_savings").
		Where("business_id = ? AND project_id = ? AND is_deleted = false AND current_status = ? AND actual_cost > 0",
			businessId, projectId, SupplyRequestStatusDelivered).
		Scan(&savings).Error
	if err != nil {
		return nil, err
	}
	stats.CostSavings = savings.CostSavings

	return &stats, nil
}
