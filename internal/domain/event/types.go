// Package event contains the canonical event model and the payload normalizer.
package event

import (
	"fmt"
	"strings"
	"time"
)

// ActorType classifies the subject of an event.
type ActorType string

const (
	// ActorTypeEmployee is a human identity.
	ActorTypeEmployee ActorType = "employee"
	// ActorTypeService is a machine identity.
	ActorTypeService ActorType = "service"
)

// IsValid returns true if the actor type is a known value.
func (t ActorType) IsValid() bool {
	switch t {
	case ActorTypeEmployee, ActorTypeService:
		return true
	default:
		return false
	}
}

// Outcome is the result of the action an event describes.
type Outcome string

const (
	// OutcomeSuccess indicates the action succeeded.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure indicates the action failed.
	OutcomeFailure Outcome = "failure"
)

// IsValid returns true if the outcome is a known value.
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Metadata is the opaque bag of source fields not consumed by a canonical slot.
// It is serialized as JSON at the storage boundary and never interpreted by
// the core algorithms.
type Metadata map[string]any

// Event is the canonical normalized record. Once written it is immutable.
type Event struct {
	// ID is core-generated (UUID v4); client-supplied IDs are never trusted.
	ID string `json:"id"`
	// OccurredAt is the source-reported instant (UTC).
	OccurredAt time.Time `json:"occurredAt"`
	// IngestedAt is assigned by the core at normalization time (UTC).
	IngestedAt time.Time `json:"ingestedAt"`

	ActorID   string    `json:"actorId"`
	ActorType ActorType `json:"actorType"`
	SourceID  string    `json:"sourceId"`

	// ActionType is a free-form low-cardinality token (e.g. "login").
	ActionType string `json:"actionType"`

	// ResourceType and ResourceID are optional. ResourceID may be a one-way
	// hash when the source has redaction enabled. Empty string means absent.
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`

	Outcome Outcome `json:"outcome"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	// Bytes is nil when the source did not report a byte count.
	Bytes *int64 `json:"bytes,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`
}

// Actor is the subject of events. Created or updated on each successful
// ingestion; never deleted by the core.
type Actor struct {
	ActorID          string    `json:"actorId"`
	DisplayName      string    `json:"displayName,omitempty"`
	ActorType        ActorType `json:"actorType"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	CurrentRiskScore int       `json:"currentRiskScore"`
}

// FieldError describes a single validation failure in a raw payload.
type FieldError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationError aggregates per-field failures for a raw payload.
// It carries no side effects and is surfaced as HTTP 400.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Path != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", f.Path, f.Message))
			continue
		}
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// add appends a field error.
func (e *ValidationError) add(path, message string) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: message})
}

// orNil returns the error if any field failed, nil otherwise.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
