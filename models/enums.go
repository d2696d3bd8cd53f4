package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type SupplyRequestStatus string

const (
	SupplyRequestStatusPending            SupplyRequestStatus = "PENDING"
	SupplyRequestStatusApproved           SupplyRequestStatus = "APPROVED"
	SupplyRequestStatusRejected           SupplyRequestStatus = "REJECTED"
	SupplyRequestStatusOrdered            SupplyRequestStatus = "ORDERED"
	SupplyRequestStatusPartiallyDelivered SupplyRequestStatus = "PARTIALLY_DELIVERED"
	SupplyRequestStatusDelivered          SupplyRequestStatus = "DELIVERED"
	SupplyRequestStatusCancelled          SupplyRequestStatus = "CANCELLED"
)

// no transition leaves these
func (s SupplyRequestStatus) IsTerminal() bool {
	switch s {
	case SupplyRequestStatusDelivered, SupplyRequestStatusRejected, SupplyRequestStatusCancelled:
		return true
	}
	return false
}

func (s SupplyRequestStatus) Valid() bool {
	switch s {
	case SupplyRequestStatusPending, SupplyRequestStatusApproved, SupplyRequestStatusRejected,
		SupplyRequestStatusOrdered, SupplyRequestStatusPartiallyDelivered,
		SupplyRequestStatusDelivered, SupplyRequestStatusCancelled:
		return true
	}
	return false
}

func (s *SupplyRequestStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("supply request status must be string")
	}
	v := SupplyRequestStatus(str)
	if !v.Valid() {
		return fmt.Errorf("invalid supply request status: %s", str)
	}
	*s = v
	return nil
}

type SupplyRequestPriority string

const (
	SupplyRequestPriorityLow    SupplyRequestPriority = "LOW"
	SupplyRequestPriorityMedium SupplyRequestPriority = "MEDIUM"
	SupplyRequestPriorityHigh   SupplyRequestPriority = "HIGH"
	SupplyRequestPriorityUrgent SupplyRequestPriority = "URGENT"
)

func (p SupplyRequestPriority) Valid() bool {
	switch p {
	case SupplyRequestPriorityLow, SupplyRequestPriorityMedium,
		SupplyRequestPriorityHigh, SupplyRequestPriorityUrgent:
		return true
	}
	return false
}

func (p *SupplyRequestPriority) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("priority must be string")
	}
	v := SupplyRequestPriority(str)
	if !v.Valid() {
		return fmt.Errorf("invalid priority: %s", str)
	}
	*p = v
	return nil
}

// history/activity action types
const (
	ActionCreate     = "CREATE"
	ActionUpdate     = "UPDATE"
	ActionApprove    = "APPROVE"
	ActionReject     = "REJECT"
	ActionPlaceOrder = "PLACE_ORDER"
	ActionDeliver    = "DELIVER"
	ActionCancel     = "CANCEL"
	ActionDelete     = "DELETE"
)

type ActivitySeverity string

const (
	ActivitySeverityInfo     ActivitySeverity = "INFO"
	ActivitySeverityWarning  ActivitySeverity = "WARNING"
	ActivitySeverityCritical ActivitySeverity = "CRITICAL"
)

// outbox publish states for activity fan-out
type OutboxPublishStatus string

const (
	OutboxPublishStatusPending OutboxPublishStatus = "PENDING"
	OutboxPublishStatusSent    OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed  OutboxPublishStatus = "FAILED"
)

type ProjectMemberRole string

const (
	ProjectMemberRoleManager ProjectMemberRole = "MANAGER"
	ProjectMemberRoleMember  ProjectMemberRole = "MEMBER"
)
