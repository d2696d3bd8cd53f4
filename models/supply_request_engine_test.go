package models

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func twoLineRequest() *SupplyRequest {
	items := []SupplyRequestItem{
		{
			ID:                1,
			EquipmentId:       10,
			EquipmentName:     "Cement Bag 50kg",
			QuantityRequested: d("8"),
			EstimatedUnitCost: d("12.5"),
		},
		{
			ID:                2,
			EquipmentId:       11,
			EquipmentName:     "Steel Rebar 12mm",
			QuantityRequested: d("4"),
			EstimatedUnitCost: d("780"),
		},
	}
	r := &SupplyRequest{
		RequestNumber: "SR-000001",
		CurrentStatus: SupplyRequestStatusPending,
		Items:         items,
	}
	r.TotalEstimatedCost = computeEstimatedTotals(r.Items)
	return r
}

func TestComputeEstimatedTotals(t *testing.T) {
	r := twoLineRequest()

	// 8*12.5 + 4*780 = 100 + 3120
	if r.TotalEstimatedCost.Cmp(d("3220")) != 0 {
		t.Fatalf("expected total 3220; got %s", r.TotalEstimatedCost.String())
	}
	if r.Items[0].EstimatedTotalCost.Cmp(d("100")) != 0 {
		t.Fatalf("expected line total 100; got %s", r.Items[0].EstimatedTotalCost.String())
	}
	if r.Items[1].EstimatedTotalCost.Cmp(d("3120")) != 0 {
		t.Fatalf("expected line total 3120; got %s", r.Items[1].EstimatedTotalCost.String())
	}
}

func TestApplyApprovalFullByDefault(t *testing.T) {
	r := twoLineRequest()

	if err := r.applyApproval(nil, false); err != nil {
		t.Fatalf("applyApproval: %v", err)
	}
	if r.Items[0].QuantityApproved.Cmp(d("8")) != 0 {
		t.Fatalf("expected line approved at requested 8; got %s", r.Items[0].QuantityApproved.String())
	}
	if r.TotalApprovedCost.Cmp(r.TotalEstimatedCost) != 0 {
		t.Fatalf("full approval should match estimate; got %s", r.TotalApprovedCost.String())
	}
}

func TestApplyApprovalPartialRecomputesApprovedCost(t *testing.T) {
	r := twoLineRequest()

	err := r.applyApproval(map[int]decimal.Decimal{2: d("2")}, false)
	if err != nil {
		t.Fatalf("applyApproval: %v", err)
	}
	if r.Items[1].QuantityApproved.Cmp(d("2")) != 0 {
		t.Fatalf("expected approved 2; got %s", r.Items[1].QuantityApproved.String())
	}
	// 8*12.5 + 2*780 = 100 + 1560
	if r.TotalApprovedCost.Cmp(d("1660")) != 0 {
		t.Fatalf("expected approved cost 1660; got %s", r.TotalApprovedCost.String())
	}
	// the estimate stays on the requested quantities
	if r.TotalEstimatedCost.Cmp(d("3220")) != 0 {
		t.Fatalf("estimate must not change on approval; got %s", r.TotalEstimatedCost.String())
	}
}

func TestApplyApprovalRejectsOverRequested(t *testing.T) {
	r := twoLineRequest()

	err := r.applyApproval(map[int]decimal.Decimal{1: d("9")}, false)
	if err == nil {
		t.Fatal("expected error approving above requested quantity")
	}

	r = twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{1: d("9")}, true); err != nil {
		t.Fatalf("over-requested approval should pass when allowed: %v", err)
	}
	if r.Items[0].QuantityApproved.Cmp(d("9")) != 0 {
		t.Fatalf("expected approved 9; got %s", r.Items[0].QuantityApproved.String())
	}
}

func TestApplyApprovalRejectsUnknownLineAndNonPositive(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{99: d("1")}, false); err == nil {
		t.Fatal("expected error for unknown line item")
	}

	r = twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{1: d("-1")}, false); err == nil {
		t.Fatal("expected error for negative quantity")
	}

	// a zero grant would leave the line falling back to the requested
	// quantity as its delivery target, so the request could never complete
	r = twoLineRequest()
	err := r.applyApproval(map[int]decimal.Decimal{1: d("0")}, false)
	if !errors.Is(err, utils.ErrorValidation) {
		t.Fatalf("expected validation error for zero quantity; got %v", err)
	}
	if r.Items[0].QuantityApproved.Cmp(decimal.Zero) != 0 {
		t.Fatalf("rejected approval must not touch the line; got %s", r.Items[0].QuantityApproved.String())
	}
}

func TestBuildItemsRejectsEmptyInput(t *testing.T) {
	ctx := context.Background()

	if _, err := buildItems(ctx, "biz", nil); !errors.Is(err, utils.ErrorValidation) {
		t.Fatalf("expected validation error for nil items; got %v", err)
	}
	if _, err := buildItems(ctx, "biz", []NewSupplyRequestItem{}); !errors.Is(err, utils.ErrorValidation) {
		t.Fatalf("expected validation error for empty items; got %v", err)
	}
}

func TestApplyDeliveryIncremental(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyApproval(nil, false); err != nil {
		t.Fatalf("applyApproval: %v", err)
	}

	if err := r.applyDelivery(map[int]decimal.Decimal{1: d("5"), 2: d("2")}); err != nil {
		t.Fatalf("applyDelivery: %v", err)
	}
	if r.isFullyDelivered() {
		t.Fatal("request should not be fully delivered yet")
	}
	// (5+2)/(8+4) = 58.33%
	if r.CompletionPercentage().Cmp(d("58.33")) != 0 {
		t.Fatalf("expected completion 58.33; got %s", r.CompletionPercentage().String())
	}

	if err := r.applyDelivery(map[int]decimal.Decimal{1: d("3"), 2: d("2")}); err != nil {
		t.Fatalf("applyDelivery: %v", err)
	}
	if !r.isFullyDelivered() {
		t.Fatal("request should be fully delivered")
	}
	if r.CompletionPercentage().Cmp(d("100")) != 0 {
		t.Fatalf("expected completion 100; got %s", r.CompletionPercentage().String())
	}
}

func TestApplyDeliveryUsesApprovedQuantityAsTarget(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{1: d("8"), 2: d("2")}, false); err != nil {
		t.Fatalf("applyApproval: %v", err)
	}

	// delivering the trimmed quantity completes the trimmed line
	if err := r.applyDelivery(map[int]decimal.Decimal{1: d("8"), 2: d("2")}); err != nil {
		t.Fatalf("applyDelivery: %v", err)
	}
	if !r.isFullyDelivered() {
		t.Fatal("trimmed approval should complete at approved quantity")
	}
	// (8+2)/(8+2) with targets from the approval
	if r.CompletionPercentage().Cmp(d("100")) != 0 {
		t.Fatalf("expected 100; got %s", r.CompletionPercentage().String())
	}
}

func TestApplyDeliveryRejectsBeyondCeiling(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{2: d("2")}, false); err != nil {
		t.Fatalf("applyApproval: %v", err)
	}

	// ceiling is max(requested=4, approved=2) = 4
	if err := r.applyDelivery(map[int]decimal.Decimal{2: d("4")}); err != nil {
		t.Fatalf("delivery up to requested should pass: %v", err)
	}
	if err := r.applyDelivery(map[int]decimal.Decimal{2: d("1")}); err == nil {
		t.Fatal("expected error delivering beyond the ceiling")
	}
}

func TestApplyDeliveryRejectsZeroAndUnknown(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyDelivery(map[int]decimal.Decimal{1: d("0")}); err == nil {
		t.Fatal("expected error for zero delta")
	}
	if err := r.applyDelivery(map[int]decimal.Decimal{99: d("1")}); err == nil {
		t.Fatal("expected error for unknown line item")
	}
}

func TestApplyDeliveryEmptyMapDeliversEverything(t *testing.T) {
	r := twoLineRequest()
	if err := r.applyApproval(map[int]decimal.Decimal{1: d("6")}, false); err != nil {
		t.Fatalf("applyApproval: %v", err)
	}
	if err := r.applyDelivery(nil); err != nil {
		t.Fatalf("applyDelivery: %v", err)
	}
	if !r.isFullyDelivered() {
		t.Fatal("empty delivery map should complete all lines")
	}
	if r.Items[0].QuantityDelivered.Cmp(d("6")) != 0 {
		t.Fatalf("expected delivered 6; got %s", r.Items[0].QuantityDelivered.String())
	}
}

func TestIsFullyDeliveredEmptyRequest(t *testing.T) {
	r := &SupplyRequest{}
	if r.isFullyDelivered() {
		t.Fatal("a request without lines is never fully delivered")
	}
	if r.CompletionPercentage().Cmp(decimal.Zero) != 0 {
		t.Fatalf("expected 0; got %s", r.CompletionPercentage().String())
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)

	r := &SupplyRequest{CurrentStatus: SupplyRequestStatusPending, RequiredDate: &past}
	if !r.IsOverdue(now) {
		t.Fatal("pending request past its required date should be overdue")
	}

	r.CurrentStatus = SupplyRequestStatusDelivered
	if r.IsOverdue(now) {
		t.Fatal("delivered request is never overdue")
	}

	r.CurrentStatus = SupplyRequestStatusCancelled
	if r.IsOverdue(now) {
		t.Fatal("cancelled request is never overdue")
	}

	// rejected demand past its date still counts as overdue
	r.CurrentStatus = SupplyRequestStatusRejected
	if !r.IsOverdue(now) {
		t.Fatal("rejected request past its required date should be overdue")
	}

	r = &SupplyRequest{CurrentStatus: SupplyRequestStatusPending}
	if r.IsOverdue(now) {
		t.Fatal("request without required date is never overdue")
	}
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range []SupplyRequestStatus{
		SupplyRequestStatusDelivered, SupplyRequestStatusRejected, SupplyRequestStatusCancelled,
	} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []SupplyRequestStatus{
		SupplyRequestStatusPending, SupplyRequestStatusApproved,
		SupplyRequestStatusOrdered, SupplyRequestStatusPartiallyDelivered,
	} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if SupplyRequestStatus("SHIPPED").Valid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestEnumUnmarshalRejectsUnknownValues(t *testing.T) {
	var status SupplyRequestStatus
	if err := json.Unmarshal([]byte(`"SHIPPED"`), &status); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if err := json.Unmarshal([]byte(`"APPROVED"`), &status); err != nil {
		t.Fatalf("unmarshal valid status: %v", err)
	}

	var priority SupplyRequestPriority
	if err := json.Unmarshal([]byte(`"CRITICAL"`), &priority); err == nil {
		t.Fatal("expected error for unknown priority")
	}
	if err := json.Unmarshal([]byte(`"URGENT"`), &priority); err != nil {
		t.Fatalf("unmarshal valid priority: %v", err)
	}
}
