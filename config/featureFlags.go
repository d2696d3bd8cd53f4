package config

import (
	"os"
	"strings"
)

// AllowApproveOverRequested lets an approver set a line item's approved
// quantity above what was requested. Off by default: approvals can only trim.
//
// Set via env:
// - APPROVE_OVER_REQUESTED=true
func AllowApproveOverRequested() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("APPROVE_OVER_REQUESTED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RequireOrderBeforeDelivery forces the APPROVED -> ORDERED transition before
// any delivery can be recorded. Off by default: deliveries are accepted
// straight from APPROVED.
//
// Set via env:
// - REQUIRE_ORDER_BEFORE_DELIVERY=true
func RequireOrderBeforeDelivery() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("REQUIRE_ORDER_BEFORE_DELIVERY")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
