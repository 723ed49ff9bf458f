// Package audit contains domain types for immutable config-change records.
package audit

import (
	"errors"
	"time"
)

// ErrInvalidRecord is returned when an audit record fails validation.
// The enclosing mutation must fail with it.
var ErrInvalidRecord = errors.New("invalid audit record")

// Action identifies the kind of admin-initiated mutation being recorded.
type Action string

const (
	ActionRuleUpdated         Action = "rule_updated"
	ActionSourceCreated       Action = "source_created"
	ActionSourceUpdated       Action = "source_updated"
	ActionSourceAPIKeyRotated Action = "source_api_key_rotated"
	ActionThresholdUpdated    Action = "threshold_updated"
	ActionSettingUpdated      Action = "setting_updated"
)

// IsValid returns true if the action is in the closed set.
func (a Action) IsValid() bool {
	switch a {
	case ActionRuleUpdated, ActionSourceCreated, ActionSourceUpdated,
		ActionSourceAPIKeyRotated, ActionThresholdUpdated, ActionSettingUpdated:
		return true
	default:
		return false
	}
}

// EntityType identifies what kind of entity a record refers to.
type EntityType string

const (
	EntityScoringRule   EntityType = "ScoringRule"
	EntitySource        EntityType = "Source"
	EntitySystemSetting EntityType = "SystemSetting"
)

// IsValid returns true if the entity type is in the closed set.
func (e EntityType) IsValid() bool {
	switch e {
	case EntityScoringRule, EntitySource, EntitySystemSetting:
		return true
	default:
		return false
	}
}

// RotationSentinel is recorded as both before and after value for credential
// rotations. No secret material is ever written to the audit trail.
const RotationSentinel = "[rotated]"

// Record is an immutable config-change record. BeforeValue and AfterValue are
// opaque bags serialized as JSON at the storage boundary; either may be nil,
// but at least one must be present unless the action is a credential rotation.
type Record struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Action      Action         `json:"action"`
	EntityType  EntityType     `json:"entityType"`
	EntityID    string         `json:"entityId"`
	BeforeValue map[string]any `json:"beforeValue,omitempty"`
	AfterValue  map[string]any `json:"afterValue,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Validate checks the closed sets and the before/after presence rule.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return ErrInvalidRecord
	}
	if !r.Action.IsValid() {
		return ErrInvalidRecord
	}
	if !r.EntityType.IsValid() {
		return ErrInvalidRecord
	}
	if r.EntityID == "" {
		return ErrInvalidRecord
	}
	if r.Action == ActionSourceAPIKeyRotated {
		return nil
	}
	if r.BeforeValue == nil && r.AfterValue == nil {
		return ErrInvalidRecord
	}
	return nil
}
