package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/source"
)

// Accepted source keys per canonical slot, in priority order. Alternatives
// accommodate heterogeneous emitters (VPN concentrators, IAM systems,
// application logs) without per-source mapping configuration.
var (
	actorIDKeys    = []string{"actorId", "actor", "userId", "user"}
	occurredAtKeys = []string{"occurredAt", "timestamp"}
	actionTypeKeys = []string{"actionType", "action", "type"}
	resourceIDKeys = []string{"resourceId", "resource"}
	ipKeys         = []string{"ip", "ipAddress"}
	bytesKeys      = []string{"bytes", "bytesTransferred"}
)

// consumedKeys is the union of all accepted source keys across slots.
// Raw fields outside this set are preserved verbatim in Event.Metadata.
var consumedKeys = map[string]struct{}{
	"actorId": {}, "actor": {}, "userId": {}, "user": {},
	"actorType":  {},
	"occurredAt": {}, "timestamp": {},
	"actionType": {}, "action": {}, "type": {},
	"resourceType": {},
	"resourceId":   {}, "resource": {},
	"ip": {}, "ipAddress": {},
	"userAgent": {},
	"bytes":     {}, "bytesTransferred": {},
	"outcome": {}, "success": {},
}

// redactedHashLen is the number of hex characters kept from the SHA-256
// digest when a source has resource-ID redaction enabled.
const redactedHashLen = 16

// ValidatePayload checks required-field presence and field types for a raw
// payload without normalizing it. It returns a *ValidationError listing every
// violation, or nil if the payload is acceptable.
func ValidatePayload(raw map[string]any) error {
	verr := &ValidationError{}

	if _, ok := firstString(raw, actorIDKeys); !ok {
		verr.add("actorId", "required: one of actorId, actor, userId, user")
	}
	if _, ok := firstString(raw, actionTypeKeys); !ok {
		verr.add("actionType", "required: one of actionType, action, type")
	}

	if v, present := firstPresent(raw, []string{"actorType"}); present {
		s, ok := v.(string)
		if !ok || !ActorType(s).IsValid() {
			verr.add("actorType", "must be \"employee\" or \"service\"")
		}
	}

	if v, present := firstPresent(raw, occurredAtKeys); present {
		if _, err := parseTimestamp(v); err != nil {
			verr.add("occurredAt", err.Error())
		}
	}

	if v, present := firstPresent(raw, bytesKeys); present {
		n, err := parseBytes(v)
		if err != nil {
			verr.add("bytes", err.Error())
		} else if n < 0 {
			verr.add("bytes", "must be >= 0")
		}
	}

	if v, present := firstPresent(raw, []string{"outcome"}); present {
		s, ok := v.(string)
		if !ok {
			verr.add("outcome", "must be a string")
		} else if _, err := mapOutcome(s); err != nil {
			verr.add("outcome", err.Error())
		}
	}

	for _, key := range []string{"resourceType", "userAgent"} {
		if v, present := firstPresent(raw, []string{key}); present {
			if _, ok := v.(string); !ok {
				verr.add(key, "must be a string")
			}
		}
	}

	return verr.orNil()
}

// Normalize converts a raw payload into a canonical Event for the given
// source. It is pure: the reference time is passed in so IngestedAt (and the
// occurredAt fallback) are reproducible. The returned event's ID is
// core-generated; client-supplied identifiers are never trusted.
//
// Validation failures return a *ValidationError and a nil event.
func Normalize(raw map[string]any, src *source.Source, now time.Time) (*Event, error) {
	if err := ValidatePayload(raw); err != nil {
		return nil, err
	}

	now = now.UTC()
	ev := &Event{
		ID:         uuid.New().String(),
		IngestedAt: now,
		SourceID:   src.ID,
		ActorType:  ActorTypeEmployee,
		Outcome:    OutcomeSuccess,
	}

	ev.ActorID, _ = firstString(raw, actorIDKeys)
	ev.ActionType, _ = firstString(raw, actionTypeKeys)

	if v, ok := firstString(raw, []string{"actorType"}); ok {
		ev.ActorType = ActorType(v)
	}

	if v, present := firstPresent(raw, occurredAtKeys); present {
		ts, err := parseTimestamp(v)
		if err != nil {
			return nil, &ValidationError{Fields: []FieldError{{Path: "occurredAt", Message: err.Error()}}}
		}
		ev.OccurredAt = ts.UTC()
	} else {
		ev.OccurredAt = now
	}

	if v, ok := firstString(raw, []string{"resourceType"}); ok {
		ev.ResourceType = v
	}
	if v, ok := firstString(raw, resourceIDKeys); ok {
		if src.RedactResourceID {
			ev.ResourceID = RedactResourceID(v)
		} else {
			ev.ResourceID = v
		}
	}
	if v, ok := firstString(raw, ipKeys); ok {
		ev.IP = v
	}
	if v, ok := firstString(raw, []string{"userAgent"}); ok {
		ev.UserAgent = v
	}

	if v, present := firstPresent(raw, bytesKeys); present {
		n, err := parseBytes(v)
		if err != nil || n < 0 {
			return nil, &ValidationError{Fields: []FieldError{{Path: "bytes", Message: "must be a non-negative number"}}}
		}
		ev.Bytes = &n
	}

	if v, present := firstPresent(raw, []string{"outcome"}); present {
		s, _ := v.(string)
		out, err := mapOutcome(s)
		if err != nil {
			return nil, &ValidationError{Fields: []FieldError{{Path: "outcome", Message: err.Error()}}}
		}
		ev.Outcome = out
	} else if v, present := firstPresent(raw, []string{"success"}); present {
		if b, ok := v.(bool); ok {
			if b {
				ev.Outcome = OutcomeSuccess
			} else {
				ev.Outcome = OutcomeFailure
			}
		}
	}

	// Preserve every unconsumed top-level field, omitting explicit nulls.
	for k, v := range raw {
		if _, consumed := consumedKeys[k]; consumed {
			continue
		}
		if v == nil {
			continue
		}
		if ev.Metadata == nil {
			ev.Metadata = Metadata{}
		}
		ev.Metadata[k] = v
	}

	return ev, nil
}

// RedactResourceID returns the first 16 hex characters of the SHA-256 digest
// of the original value.
func RedactResourceID(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:redactedHashLen]
}

// firstPresent returns the first value among keys that exists in raw,
// including explicit nulls.
func firstPresent(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// firstString returns the first non-empty string among keys.
func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// parseTimestamp accepts RFC 3339 strings and numeric epoch milliseconds
// (JSON numbers decode as float64).
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			ts, err = time.Parse(time.RFC3339, t)
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC 3339", t)
		}
		return ts, nil
	case float64:
		if t < 0 || t != math.Trunc(t) {
			return time.Time{}, fmt.Errorf("invalid epoch millisecond timestamp")
		}
		return time.UnixMilli(int64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp must be an RFC 3339 string or epoch milliseconds")
	}
}

// parseBytes accepts JSON numbers (float64) and integers.
func parseBytes(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("must be an integer byte count")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("must be a number")
	}
}

// mapOutcome maps accepted outcome tokens onto the closed Outcome set.
func mapOutcome(s string) (Outcome, error) {
	switch s {
	case "success":
		return OutcomeSuccess, nil
	case "failure", "failed", "error":
		return OutcomeFailure, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}
