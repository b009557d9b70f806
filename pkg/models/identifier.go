package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentifierKind is the class of an identifying signal.
type IdentifierKind string

const (
	IdentifierKindEmail          IdentifierKind = "email"
	IdentifierKindPhone          IdentifierKind = "phone"
	IdentifierKindSecondaryPhone IdentifierKind = "secondary_phone"
	IdentifierKindMicrochip      IdentifierKind = "microchip"
	IdentifierKindClinicID       IdentifierKind = "clinic_id"
)

// IsValid returns true if the kind is a known identifier kind.
func (k IdentifierKind) IsValid() bool {
	switch k {
	case IdentifierKindEmail, IdentifierKindPhone, IdentifierKindSecondaryPhone,
		IdentifierKindMicrochip, IdentifierKindClinicID:
		return true
	default:
		return false
	}
}

// MatchKind collapses kinds that share a uniqueness space. A secondary phone
// competes with primary phones: the same number may not belong to two people
// under different labels.
func (k IdentifierKind) MatchKind() IdentifierKind {
	if k == IdentifierKindSecondaryPhone {
		return IdentifierKindPhone
	}
	return k
}

// Identifier links a normalized identifying signal to its owning entity.
// A (match kind, normalized value) pair resolves to at most one entity.
// Identifiers are append-only: never updated, never reassigned automatically.
type Identifier struct {
	ID              uuid.UUID
	EntityID        uuid.UUID
	Kind            IdentifierKind
	NormalizedValue string
	RawValue        string
	SourceSystem    string
	SourceTable     *string
	Confidence      float64
	CreatedAt       time.Time
}

// RegisterOutcome is the result of attempting to register an identifier.
type RegisterOutcome string

const (
	// RegisterOutcomeCreated means a new identifier row was written.
	RegisterOutcomeCreated RegisterOutcome = "created"
	// RegisterOutcomeExistsElsewhere means the normalized value already
	// belongs to a different entity; nothing was written.
	RegisterOutcomeExistsElsewhere RegisterOutcome = "exists_elsewhere"
	// RegisterOutcomeBlocked means a blocklist rule matched; nothing was written.
	RegisterOutcomeBlocked RegisterOutcome = "blocked"
	// RegisterOutcomeNoSignal means normalization rejected the raw value.
	RegisterOutcomeNoSignal RegisterOutcome = "no_signal"
)

// NormalizeIdentifier canonicalizes raw identifier text into its comparable
// form. It returns ok=false for empty or unparseable input; callers must treat
// that as "no signal", not a failure.
func NormalizeIdentifier(kind IdentifierKind, raw string) (string, bool) {
	switch kind {
	case IdentifierKindEmail:
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" || !strings.Contains(email, "@") {
			return "", false
		}
		return email, true
	case IdentifierKindPhone, IdentifierKindSecondaryPhone:
		var digits strings.Builder
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		if digits.Len() < 10 {
			return "", false
		}
		return digits.String(), true
	case IdentifierKindMicrochip, IdentifierKindClinicID:
		v := strings.TrimSpace(raw)
		if v == "" {
			return "", false
		}
		return v, true
	default:
		return "", false
	}
}
