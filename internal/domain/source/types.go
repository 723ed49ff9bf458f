// Package source contains the domain model for ingestion sources.
package source

import (
	"errors"
	"time"
)

// Sentinel errors for source operations.
var (
	// ErrNotFound is returned when a source does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrDuplicateKey is returned when a source key is already taken.
	ErrDuplicateKey = errors.New("source key already exists")
	// ErrInvalidCredential is returned when a presented API key does not verify.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Defaults applied at source creation.
const (
	// DefaultRetentionDays is the per-source event retention when unspecified.
	DefaultRetentionDays = 90
	// DefaultRateLimit is the per-source requests-per-minute limit when unspecified.
	DefaultRateLimit = 1000
)

// Source represents an upstream emitter of security events.
//
// Key is immutable after creation. The plaintext API key exists only in the
// response to create/rotate and is never stored; APIKeyHash holds a salted
// one-way hash.
type Source struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	APIKeyHash string `json:"-"`

	Enabled          bool `json:"enabled"`
	RedactResourceID bool `json:"redactResourceId"`
	RetentionDays    int  `json:"retentionDays"`
	RateLimit        int  `json:"rateLimit"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch describes a partial update of a source's mutable fields.
// Nil fields are left unchanged. Key and APIKeyHash are not patchable.
type Patch struct {
	Name             *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description      *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Enabled          *bool   `json:"enabled,omitempty"`
	RedactResourceID *bool   `json:"redactResourceId,omitempty"`
	RetentionDays    *int    `json:"retentionDays,omitempty" validate:"omitempty,gt=0"`
	RateLimit        *int    `json:"rateLimit,omitempty" validate:"omitempty,gt=0"`
}

// Apply copies the patch's non-nil fields onto the source.
func (p Patch) Apply(s *Source) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.RedactResourceID != nil {
		s.RedactResourceID = *p.RedactResourceID
	}
	if p.RetentionDays != nil {
		s.RetentionDays = *p.RetentionDays
	}
	if p.RateLimit != nil {
		s.RateLimit = *p.RateLimit
	}
}
