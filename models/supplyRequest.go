package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ReferenceTypeSupplyRequest = "SupplyRequest"

// SupplyRequest is the procurement aggregate: one header plus the line items
// it owns. Items are only ever mutated through the lifecycle operations below.
type SupplyRequest struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	BusinessId    string                `gorm:"size:36;index;not null" json:"business_id"`
	ProjectId     int                   `gorm:"index;not null" json:"project_id"`
	RequestNumber string                `gorm:"size:50;not null;index" json:"request_number"`
	SequenceNo    int64                 `gorm:"not null" json:"sequence_no"`
	Name          string                `gorm:"size:255" json:"name"`
	Description   string                `gorm:"type:text;not null" json:"description"`
	Priority      SupplyRequestPriority `gorm:"type:enum('LOW','MEDIUM','HIGH','URGENT');not null;default:MEDIUM" json:"priority"`
	CurrentStatus SupplyRequestStatus   `gorm:"type:enum('PENDING','APPROVED','REJECTED','ORDERED','PARTIALLY_DELIVERED','DELIVERED','CANCELLED');not null;default:PENDING;index" json:"current_status"`

	RequestedBy   int        `gorm:"index;not null" json:"requested_by"`
	RequestedDate time.Time  `gorm:"not null" json:"requested_date"`
	RequiredDate  *time.Time `json:"required_date"`

	// ApprovedBy also records who rejected; ApprovedAt when either happened.
	ApprovedBy      int        `gorm:"index" json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	ApprovalNotes   string     `gorm:"type:text" json:"approval_notes"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason"`

	OrderedAt            *time.Time `json:"ordered_at"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date"`
	DeliveredAt          *time.Time `json:"delivered_at"`
	DeliveryNotes        string     `gorm:"type:text" json:"delivery_notes"`

	SupplierName        string `gorm:"size:255" json:"supplier_name"`
	SupplierContact     string `gorm:"size:255" json:"supplier_contact"`
	PurchaseOrderNumber string `gorm:"size:100" json:"purchase_order_number"`

	TotalEstimatedCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_estimated_cost"`
	TotalApprovedCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_approved_cost"`
	ActualCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actual_cost"`

	IsDeleted *bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at"`
	DeletedBy int        `json:"deleted_by"`

	Items []SupplyRequestItem `gorm:"foreignKey:SupplyRequestId" json:"items"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r SupplyRequest) GetBusinessId() string {
	return r.BusinessId
}

// SupplyRequestItem snapshots the catalog entry at request time; quantities
// track the requested -> approved -> delivered progression per line.
type SupplyRequestItem struct {
	ID              int    `gorm:"primary_key" json:"id"`
	SupplyRequestId int    `gorm:"index;not null" json:"supply_request_id"`
	BusinessId      string `gorm:"size:36;index;not null" json:"business_id"`
	EquipmentId     int    `gorm:"index;not null" json:"equipment_id"`

	EquipmentName     string `gorm:"size:255;not null" json:"equipment_name"`
	EquipmentCategory string `gorm:"size:255" json:"equipment_category"`
	UnitOfMeasure     string `gorm:"size:50" json:"unit_of_measure"`

	QuantityRequested decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_requested"`
	QuantityApproved  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_approved"`
	QuantityDelivered decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_delivered"`

	EstimatedUnitCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_unit_cost"`
	EstimatedTotalCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_total_cost"`

	Notes string `gorm:"type:text" json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// targetQuantity is what counts as "fully delivered" for this line: the
// approved quantity once one was granted, the requested quantity otherwise.
func (item *SupplyRequestItem) targetQuantity() decimal.Decimal {
	if item.QuantityApproved.IsPositive() {
		return item.QuantityApproved
	}
	return item.QuantityRequested
}

/* inputs */

type NewSupplyRequestItem struct {
	EquipmentId       int              `json:"equipment_id" binding:"required"`
	QuantityRequested decimal.Decimal  `json:"quantity_requested" binding:"required"`
	EstimatedUnitCost *decimal.Decimal `json:"estimated_unit_cost"`
	Notes             string           `json:"notes"`
}

type NewSupplyRequest struct {
	ProjectId    int                    `json:"project_id" binding:"required"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description" binding:"required"`
	Priority     SupplyRequestPriority  `json:"priority"`
	RequiredDate *time.Time             `json:"required_date"`
	Items        []NewSupplyRequestItem `json:"items" binding:"required,min=1"`
	Documents    []NewDocument          `json:"documents"`
}

type UpdateSupplyRequestInput struct {
	Name         *string                `json:"name"`
	Description  *string                `json:"description"`
	Priority     *SupplyRequestPriority `json:"priority"`
	RequiredDate *time.Time             `json:"required_date"`
	// Items, when present, replaces the whole line item set.
	Items []NewSupplyRequestItem `json:"items"`
}

type ApproveSupplyRequestInput struct {
	ApprovalNotes        string                   `json:"approval_notes"`
	ExpectedDeliveryDate *time.Time               `json:"expected_delivery_date"`
	// Quantities is keyed by line item id; lines absent from the map are
	// approved at their full requested quantity.
	Quantities map[int]decimal.Decimal `json:"quantities"`
}

type RejectSupplyRequestInput struct {
	Reason string `json:"reason" binding:"required"`
}

type PlaceOrderInput struct {
	SupplierName         string     `json:"supplier_name" binding:"required"`
	SupplierContact      string     `json:"supplier_contact"`
	PurchaseOrderNumber  string     `json:"purchase_order_number"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date"`
}

type DeliverSupplyRequestInput struct {
	// Quantities is keyed by line item id and holds deltas received in this
	// delivery. An empty map means everything outstanding arrived at once.
	Quantities    map[int]decimal.Decimal `json:"quantities"`
	DeliveryNotes string                  `json:"delivery_notes"`
	ActualCost    *decimal.Decimal        `json:"actual_cost"`
	SupplierName  string                  `json:"supplier_name"`
	Documents     []NewDocument           `json:"documents"`
}

/* pure aggregate logic */

// computeEstimatedTotals fills each line's estimated total and returns the
// header total.
func computeEstimatedTotals(items []SupplyRequestItem) decimal.Decimal {
	total := decimal.Zero
	for i := range items {
		items[i].EstimatedTotalCost = items[i].EstimatedUnitCost.Mul(items[i].QuantityRequested)
		total = total.Add(items[i].EstimatedTotalCost)
	}
	return total
}

// applyApproval grants quantities per line and recomputes TotalApprovedCost.
// Lines absent from quantities are approved at their requested quantity.
// Zero is not a grant: drop the line via update or reject the whole request,
// so every approved line keeps a positive delivery target.
func (r *SupplyRequest) applyApproval(quantities map[int]decimal.Decimal, allowOverRequested bool) error {
	for itemId := range quantities {
		found := false
		for i := range r.Items {
			if r.Items[i].ID == itemId {
				found = true
				break
			}
		}
		if !found {
			return utils.ValidationError("line item %d is not part of this request", itemId)
		}
	}

	total := decimal.Zero
	for i := range r.Items {
		item := &r.Items[i]
		approved := item.QuantityRequested
		if qty, ok := quantities[item.ID]; ok {
			approved = qty
		}
		if !approved.IsPositive() {
			return utils.ValidationError("approved quantity of %s must be positive, drop the line or reject the request instead", item.EquipmentName)
		}
		if !allowOverRequested && approved.GreaterThan(item.QuantityRequested) {
			return utils.ValidationError("approved quantity of %s exceeds requested %s",
				item.EquipmentName, item.QuantityRequested.String())
		}
		item.QuantityApproved = approved
		total = total.Add(item.EstimatedUnitCost.Mul(approved))
	}

	r.TotalApprovedCost = total
	return nil
}

// applyDelivery adds received deltas per line. An empty map delivers every
// line's outstanding remainder. Lines can never exceed the greater of their
// approved and requested quantity.
func (r *SupplyRequest) applyDelivery(quantities map[int]decimal.Decimal) error {
	if len(quantities) == 0 {
		for i := range r.Items {
			r.Items[i].QuantityDelivered = r.Items[i].targetQuantity()
		}
		return nil
	}

	for itemId, delta := range quantities {
		var item *SupplyRequestItem
		for i := range r.Items {
			if r.Items[i].ID == itemId {
				item = &r.Items[i]
				break
			}
		}
		if item == nil {
			return utils.ValidationError("line item %d is not part of this request", itemId)
		}
		if !delta.IsPositive() {
			return utils.ValidationError("delivered quantity of %s must be positive", item.EquipmentName)
		}

		ceiling := item.QuantityRequested
		if item.QuantityApproved.GreaterThan(ceiling) {
			ceiling = item.QuantityApproved
		}
		next := item.QuantityDelivered.Add(delta)
		if next.GreaterThan(ceiling) {
			return utils.ValidationError("delivered quantity of %s would exceed %s",
				item.EquipmentName, ceiling.String())
		}
		item.QuantityDelivered = next
	}
	return nil
}

// isFullyDelivered reports whether every line reached its target quantity.
func (r *SupplyRequest) isFullyDelivered() bool {
	for i := range r.Items {
		if r.Items[i].QuantityDelivered.LessThan(r.Items[i].targetQuantity()) {
			return false
		}
	}
	return len(r.Items) > 0
}

// CompletionPercentage is delivered over target across all lines, 0-100.
func (r *SupplyRequest) CompletionPercentage() decimal.Decimal {
	delivered := decimal.Zero
	target := decimal.Zero
	for i := range r.Items {
		t := r.Items[i].targetQuantity()
		d := r.Items[i].QuantityDelivered
		if d.GreaterThan(t) {
			d = t
		}
		delivered = delivered.Add(d)
		target = target.Add(t)
	}
	if target.IsZero() {
		return decimal.Zero
	}
	return delivered.Div(target).Mul(decimal.NewFromInt(100)).Round(2)
}

// IsOverdue reports a required date in the past on a request that was never
// fulfilled. Only DELIVERED and CANCELLED clear the flag; a rejected request
// past its date still shows up as overdue demand.
func (r *SupplyRequest) IsOverdue(now time.Time) bool {
	if r.RequiredDate == nil {
		return false
	}
	switch r.CurrentStatus {
	case SupplyRequestStatusDelivered, SupplyRequestStatusCancelled:
		return false
	}
	return r.RequiredDate.Before(now)
}

/* lifecycle operations */

// buildItems enriches raw line inputs from the equipment catalog. Unknown or
// inactive equipment surfaces as ErrorInvalidReference.
func buildItems(ctx context.Context, businessId string, inputs []NewSupplyRequestItem) ([]SupplyRequestItem, error) {
	if len(inputs) == 0 {
		return nil, utils.ValidationError("a request needs at least one line item")
	}
	seen := make(map[int]bool, len(inputs))
	items := make([]SupplyRequestItem, 0, len(inputs))
	for _, input := range inputs {
		if !input.QuantityRequested.IsPositive() {
			return nil, utils.ValidationError("requested quantity must be positive")
		}
		if seen[input.EquipmentId] {
			return nil, utils.ValidationError("equipment %d appears more than once", input.EquipmentId)
		}
		seen[input.EquipmentId] = true

		equipment, err := GetEquipment(ctx, input.EquipmentId)
		if err != nil {
			if utils.IsRecordNotFound(err) {
				return nil, utils.InvalidReferenceError("equipment %d", input.EquipmentId)
			}
			return nil, err
		}
		if equipment.IsActive != nil && !*equipment.IsActive {
			return nil, utils.InvalidReferenceError("equipment %d is inactive", input.EquipmentId)
		}

		unitCost := equipment.UnitCost
		if input.EstimatedUnitCost != nil {
			if input.EstimatedUnitCost.IsNegative() {
				return nil, utils.ValidationError("estimated unit cost cannot be negative")
			}
			unitCost = *input.EstimatedUnitCost
		}

		items = append(items, SupplyRequestItem{
			BusinessId:        businessId,
			EquipmentId:       equipment.ID,
			EquipmentName:     equipment.Name,
			EquipmentCategory: equipment.Category,
			UnitOfMeasure:     equipment.UnitOfMeasure,
			QuantityRequested: input.QuantityRequested,
			EstimatedUnitCost: unitCost,
			Notes:             input.Notes,
		})
	}
	return items, nil
}

// CreateSupplyRequest opens a new request in PENDING for a project the actor
// belongs to.
func CreateSupplyRequest(ctx context.Context, input *NewSupplyRequest) (*SupplyRequest, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	access, err := ResolveProjectAccess(ctx, input.ProjectId, userId)
	if err != nil {
		return nil, err
	}
	if !access.IsAssigned && !access.IsBusinessAdmin {
		return nil, utils.ErrorAccessDenied
	}

	priority := input.Priority
	if priority == "" {
		priority = SupplyRequestPriorityMedium
	}
	if !priority.Valid() {
		return nil, utils.ValidationError("invalid priority %s", priority)
	}

	items, err := buildItems(ctx, businessId, input.Items)
	if err != nil {
		return nil, err
	}

	request := SupplyRequest{
		BusinessId:         businessId,
		ProjectId:          input.ProjectId,
		Name:               input.Name,
		Description:        input.Description,
		Priority:           priority,
		CurrentStatus:      SupplyRequestStatusPending,
		RequestedBy:        userId,
		RequestedDate:      time.Now(),
		RequiredDate:       input.RequiredDate,
		IsDeleted:          utils.NewFalse(),
		Items:              items,
		TotalEstimatedCost: computeEstimatedTotals(items),
	}

	seq, err := utils.GetSequence[SupplyRequest](ctx, businessId)
	if err != nil {
		return nil, err
	}
	request.SequenceNo = seq
	request.RequestNumber = fmt.Sprintf("SR-%06d", seq)

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Create(&request).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := AttachDocuments(ctx, tx, input.Documents, ReferenceTypeSupplyRequest, request.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	recordActivity(ctx, activityRecord{
		Action:        ActionCreate,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Success:       true,
		Metadata: map[string]any{
			"request_number":       request.RequestNumber,
			"priority":             string(request.Priority),
			"total_estimated_cost": request.TotalEstimatedCost,
		},
		Description: fmt.Sprintf("%s created", request.RequestNumber),
		After:       &request,
	})

	return &request, nil
}

// fetchSupplyRequest loads a live (non-deleted) request with its items,
// scoped to the ctx business.
func fetchSupplyRequest(ctx context.Context, id int) (*SupplyRequest, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	var request SupplyRequest
	db := config.GetDB()
	err := db.WithContext(ctx).
		Preload("Items").
		Where("business_id = ? AND is_deleted = false", businessId).
		First(&request, id).Error
	if err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &request, nil
}

// guardActor allows the requester and business admins; everyone else gets
// ErrorAccessDenied even when they can read the project.
func guardActor(ctx context.Context, request *SupplyRequest) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	if request.RequestedBy == userId {
		return nil
	}

	access, err := ResolveProjectAccess(ctx, request.ProjectId, userId)
	if err != nil {
		return err
	}
	if access.IsBusinessAdmin {
		return nil
	}
	return utils.ErrorAccessDenied
}

// transitionSupplyRequest applies updates only when the row is still in
// fromStatus; losing a race surfaces as ErrorInvalidState.
func transitionSupplyRequest(tx *gorm.DB, request *SupplyRequest, fromStatus SupplyRequestStatus, updates map[string]any) error {
	result := tx.Model(&SupplyRequest{}).
		Where("id = ? AND business_id = ? AND current_status = ? AND is_deleted = false",
			request.ID, request.BusinessId, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.InvalidStateError("%s is no longer %s", request.RequestNumber, fromStatus)
	}
	return nil
}

// UpdateSupplyRequest edits a PENDING request. Passing Items replaces the
// whole line set and recomputes the estimated total.
func UpdateSupplyRequest(ctx context.Context, id int, input *UpdateSupplyRequestInput) (*SupplyRequest, error) {
	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}
	if request.CurrentStatus != SupplyRequestStatusPending {
		return nil, utils.InvalidStateError("%s can only be edited while pending, current status is %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request

	updates := map[string]any{}
	if input.Name != nil {
		updates["name"] = *input.Name
		request.Name = *input.Name
	}
	if input.Description != nil {
		if strings.TrimSpace(*input.Description) == "" {
			return nil, utils.ValidationError("description cannot be empty")
		}
		updates["description"] = *input.Description
		request.Description = *input.Description
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			return nil, utils.ValidationError("invalid priority %s", *input.Priority)
		}
		updates["priority"] = *input.Priority
		request.Priority = *input.Priority
	}
	if input.RequiredDate != nil {
		updates["required_date"] = *input.RequiredDate
		request.RequiredDate = input.RequiredDate
	}

	var newItems []SupplyRequestItem
	if input.Items != nil {
		newItems, err = buildItems(ctx, request.BusinessId, input.Items)
		if err != nil {
			return nil, err
		}
		total := computeEstimatedTotals(newItems)
		updates["total_estimated_cost"] = total
		request.TotalEstimatedCost = total
	}

	if len(updates) == 0 && newItems == nil {
		return request, nil
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if len(updates) > 0 {
		if err := transitionSupplyRequest(tx, request, SupplyRequestStatusPending, updates); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if newItems != nil {
		if err := tx.Where("supply_request_id = ?", request.ID).
			Delete(&SupplyRequestItem{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		for i := range newItems {
			newItems[i].SupplyRequestId = request.ID
		}
		if err := tx.Create(&newItems).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		request.Items = newItems
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	recordActivity(ctx, activityRecord{
		Action:        ActionUpdate,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Success:       true,
		Description:   fmt.Sprintf("%s updated", request.RequestNumber),
		Before:        &before,
		After:         request,
	})

	return request, nil
}

// ApproveSupplyRequest moves PENDING to APPROVED, granting per-line
// quantities and freezing the approved cost.
func ApproveSupplyRequest(ctx context.Context, id int, input *ApproveSupplyRequestInput) (*SupplyRequest, error) {
	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}
	if request.CurrentStatus != SupplyRequestStatusPending {
		return nil, utils.InvalidStateError("%s cannot be approved from %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request

	if err := request.applyApproval(input.Quantities, config.AllowApproveOverRequested()); err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now()

	updates := map[string]any{
		"current_status":      SupplyRequestStatusApproved,
		"approved_by":         userId,
		"approved_at":         now,
		"approval_notes":      input.ApprovalNotes,
		"total_approved_cost": request.TotalApprovedCost,
	}
	if input.ExpectedDeliveryDate != nil {
		updates["expected_delivery_date"] = *input.ExpectedDeliveryDate
		request.ExpectedDeliveryDate = input.ExpectedDeliveryDate
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := transitionSupplyRequest(tx, request, SupplyRequestStatusPending, updates); err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range request.Items {
		item := &request.Items[i]
		if err := tx.Model(&SupplyRequestItem{}).
			Where("id = ?", item.ID).
			Update("quantity_approved", item.QuantityApproved).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	request.CurrentStatus = SupplyRequestStatusApproved
	request.ApprovedBy = userId
	request.ApprovedAt = &now
	request.ApprovalNotes = input.ApprovalNotes

	recordActivity(ctx, activityRecord{
		Action:        ActionApprove,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Success:       true,
		Metadata: map[string]any{
			"total_approved_cost": request.TotalApprovedCost,
		},
		Description: fmt.Sprintf("%s approved", request.RequestNumber),
		Before:      &before,
		After:       request,
	})

	return request, nil
}

// RejectSupplyRequest moves PENDING to REJECTED. The reason is mandatory and
// ends up on the record, not just the audit trail.
func RejectSupplyRequest(ctx context.Context, id int, input *RejectSupplyRequestInput) (*SupplyRequest, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return nil, utils.ValidationError("rejection reason is required")
	}

	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}
	if request.CurrentStatus != SupplyRequestStatusPending {
		return nil, utils.InvalidStateError("%s cannot be rejected from %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request
	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now()

	db := config.GetDB()
	err = transitionSupplyRequest(db.WithContext(ctx), request, SupplyRequestStatusPending, map[string]any{
		"current_status":   SupplyRequestStatusRejected,
		"approved_by":      userId,
		"approved_at":      now,
		"rejection_reason": input.Reason,
	})
	if err != nil {
		return nil, err
	}

	request.CurrentStatus = SupplyRequestStatusRejected
	request.ApprovedBy = userId
	request.ApprovedAt = &now
	request.RejectionReason = input.Reason

	recordActivity(ctx, activityRecord{
		Action:        ActionReject,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Severity:      ActivitySeverityWarning,
		Success:       true,
		Metadata:      map[string]any{"reason": input.Reason},
		Description:   fmt.Sprintf("%s rejected", request.RequestNumber),
		Before:        &before,
		After:         request,
	})

	return request, nil
}

// PlaceSupplyRequestOrder moves APPROVED to ORDERED with supplier details.
func PlaceSupplyRequestOrder(ctx context.Context, id int, input *PlaceOrderInput) (*SupplyRequest, error) {
	if strings.TrimSpace(input.SupplierName) == "" {
		return nil, utils.ValidationError("supplier name is required")
	}
	if input.SupplierContact != "" {
		if strings.Contains(input.SupplierContact, "@") {
			if !utils.IsValidEmail(input.SupplierContact) {
				return nil, utils.ValidationError("invalid supplier email")
			}
		} else if err := utils.ValidatePhoneNumber(input.SupplierContact, utils.CountryCode); err != nil {
			return nil, utils.ValidationError("invalid supplier phone number")
		}
	}

	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}
	if request.CurrentStatus != SupplyRequestStatusApproved {
		return nil, utils.InvalidStateError("%s cannot be ordered from %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request
	now := time.Now()

	updates := map[string]any{
		"current_status":        SupplyRequestStatusOrdered,
		"ordered_at":            now,
		"supplier_name":         input.SupplierName,
		"supplier_contact":      input.SupplierContact,
		"purchase_order_number": input.PurchaseOrderNumber,
	}
	if input.ExpectedDeliveryDate != nil {
		updates["expected_delivery_date"] = *input.ExpectedDeliveryDate
		request.ExpectedDeliveryDate = input.ExpectedDeliveryDate
	}

	db := config.GetDB()
	if err := transitionSupplyRequest(db.WithContext(ctx), request, SupplyRequestStatusApproved, updates); err != nil {
		return nil, err
	}

	request.CurrentStatus = SupplyRequestStatusOrdered
	request.OrderedAt = &now
	request.SupplierName = input.SupplierName
	request.SupplierContact = input.SupplierContact
	request.PurchaseOrderNumber = input.PurchaseOrderNumber

	recordActivity(ctx, activityRecord{
		Action:        ActionPlaceOrder,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Success:       true,
		Metadata: map[string]any{
			"supplier_name":         input.SupplierName,
			"purchase_order_number": input.PurchaseOrderNumber,
		},
		Description: fmt.Sprintf("%s ordered from %s", request.RequestNumber, input.SupplierName),
		Before:      &before,
		After:       request,
	})

	return request, nil
}

// deliverableStatuses are the statuses a delivery may be recorded from.
func deliverableStatuses() []SupplyRequestStatus {
	if config.RequireOrderBeforeDelivery() {
		return []SupplyRequestStatus{
			SupplyRequestStatusOrdered,
			SupplyRequestStatusPartiallyDelivered,
		}
	}
	return []SupplyRequestStatus{
		SupplyRequestStatusApproved,
		SupplyRequestStatusOrdered,
		SupplyRequestStatusPartiallyDelivered,
	}
}

// MarkSupplyRequestDelivered records one delivery. Partial receipts land in
// PARTIALLY_DELIVERED; the delivery that completes every line moves the
// request to DELIVERED and stamps deliveredAt exactly once.
func MarkSupplyRequestDelivered(ctx context.Context, id int, input *DeliverSupplyRequestInput) (*SupplyRequest, error) {
	if input.ActualCost != nil && input.ActualCost.IsNegative() {
		return nil, utils.ValidationError("actual cost cannot be negative")
	}

	// Serialize concurrent deliveries of the same request. Best effort: when
	// redis is down the row lock inside the transaction still serializes
	// writers.
	if locker := config.GetRedisLock(); locker != nil {
		key := fmt.Sprintf("supplyRequestDelivery:%d", id)
		lock, err := locker.Obtain(ctx, key, 10*time.Second, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(200 * time.Millisecond),
		})
		if err == nil {
			defer lock.Release(context.Background())
		}
	}

	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// Re-read under a row lock. Racing deliveries queue on the header row and
	// apply their increments on top of each other's committed quantities.
	var fresh SupplyRequest
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND is_deleted = false", request.BusinessId).
		First(&fresh, id).Error
	if err != nil {
		tx.Rollback()
		if utils.IsRecordNotFound(err) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("supply_request_id = ?", fresh.ID).
		Order("id ASC").
		Find(&fresh.Items).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	allowed := false
	for _, status := range deliverableStatuses() {
		if fresh.CurrentStatus == status {
			allowed = true
			break
		}
	}
	if !allowed {
		tx.Rollback()
		return nil, utils.InvalidStateError("%s cannot take deliveries from %s",
			fresh.RequestNumber, fresh.CurrentStatus)
	}

	before := fresh
	fromStatus := fresh.CurrentStatus

	if err := fresh.applyDelivery(input.Quantities); err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now()
	newStatus := SupplyRequestStatusPartiallyDelivered
	if fresh.isFullyDelivered() {
		newStatus = SupplyRequestStatusDelivered
	}

	updates := map[string]any{
		"current_status": newStatus,
	}
	if newStatus == SupplyRequestStatusDelivered && fresh.DeliveredAt == nil {
		updates["delivered_at"] = now
		fresh.DeliveredAt = &now
	}
	if input.DeliveryNotes != "" {
		updates["delivery_notes"] = input.DeliveryNotes
		fresh.DeliveryNotes = input.DeliveryNotes
	}
	if input.ActualCost != nil {
		updates["actual_cost"] = *input.ActualCost
		fresh.ActualCost = *input.ActualCost
	}
	if input.SupplierName != "" {
		updates["supplier_name"] = input.SupplierName
		fresh.SupplierName = input.SupplierName
	}

	if err := transitionSupplyRequest(tx, &fresh, fromStatus, updates); err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range fresh.Items {
		item := &fresh.Items[i]
		if err := tx.Model(&SupplyRequestItem{}).
			Where("id = ?", item.ID).
			Update("quantity_delivered", item.QuantityDelivered).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := AttachDocuments(ctx, tx, input.Documents, ReferenceTypeSupplyRequest, fresh.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	fresh.CurrentStatus = newStatus

	recordActivity(ctx, activityRecord{
		Action:        ActionDeliver,
		ReferenceId:   fresh.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     fresh.ProjectId,
		Success:       true,
		Metadata: map[string]any{
			"status":     string(newStatus),
			"completion": fresh.CompletionPercentage(),
		},
		Description: fmt.Sprintf("%s delivery recorded (%s)", fresh.RequestNumber, newStatus),
		Before:      &before,
		After:       &fresh,
	})

	return &fresh, nil
}

// CancelSupplyRequest moves PENDING to CANCELLED.
func CancelSupplyRequest(ctx context.Context, id int) (*SupplyRequest, error) {
	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardActor(ctx, request); err != nil {
		return nil, err
	}
	if request.CurrentStatus != SupplyRequestStatusPending {
		return nil, utils.InvalidStateError("%s cannot be cancelled from %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request

	db := config.GetDB()
	err = transitionSupplyRequest(db.WithContext(ctx), request, SupplyRequestStatusPending, map[string]any{
		"current_status": SupplyRequestStatusCancelled,
	})
	if err != nil {
		return nil, err
	}

	request.CurrentStatus = SupplyRequestStatusCancelled

	recordActivity(ctx, activityRecord{
		Action:        ActionCancel,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Success:       true,
		Description:   fmt.Sprintf("%s cancelled", request.RequestNumber),
		Before:        &before,
		After:         request,
	})

	return request, nil
}

// DeleteSupplyRequest soft-deletes a PENDING or REJECTED request. The row
// stays for the audit trail but disappears from every read path.
func DeleteSupplyRequest(ctx context.Context, id int) error {
	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return err
	}
	if err := guardActor(ctx, request); err != nil {
		return err
	}
	if request.CurrentStatus != SupplyRequestStatusPending &&
		request.CurrentStatus != SupplyRequestStatusRejected {
		return utils.InvalidStateError("%s cannot be deleted from %s",
			request.RequestNumber, request.CurrentStatus)
	}

	before := *request
	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now()

	db := config.GetDB()
	err = transitionSupplyRequest(db.WithContext(ctx), request, request.CurrentStatus, map[string]any{
		"is_deleted": true,
		"deleted_at": now,
		"deleted_by": userId,
	})
	if err != nil {
		return err
	}

	recordActivity(ctx, activityRecord{
		Action:        ActionDelete,
		ReferenceId:   request.ID,
		ReferenceType: ReferenceTypeSupplyRequest,
		ProjectId:     request.ProjectId,
		Severity:      ActivitySeverityWarning,
		Success:       true,
		Description:   fmt.Sprintf("%s deleted", request.RequestNumber),
		Before:        &before,
	})

	return nil
}

/* reads */

// SupplyRequestResponse decorates the aggregate with read-time fields the
// clients want but the row does not store.
type SupplyRequestResponse struct {
	SupplyRequest
	RequesterName        string          `json:"requester_name"`
	ApproverName         string          `json:"approver_name,omitempty"`
	CompletionPercent    decimal.Decimal `json:"completion_percent"`
	Overdue              bool            `json:"overdue"`
	Documents            []*Document     `json:"documents,omitempty"`
}

// GetSupplyRequest loads one request with actor names resolved for display.
func GetSupplyRequest(ctx context.Context, id int) (*SupplyRequestResponse, error) {
	request, err := fetchSupplyRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	access, err := ResolveProjectAccess(ctx, request.ProjectId, userId)
	if err != nil {
		return nil, err
	}
	if !access.IsAssigned && !access.IsBusinessAdmin {
		return nil, utils.ErrorAccessDenied
	}

	documents, err := GetDocuments(ctx, ReferenceTypeSupplyRequest, request.ID)
	if err != nil {
		return nil, err
	}

	response := SupplyRequestResponse{
		SupplyRequest:     *request,
		RequesterName:     GetUserDisplayName(ctx, request.RequestedBy),
		ApproverName:      GetUserDisplayName(ctx, request.ApprovedBy),
		CompletionPercent: request.CompletionPercentage(),
		Overdue:           request.IsOverdue(time.Now()),
		Documents:         documents,
	}
	return &response, nil
}
