package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier_Email(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"lowercases and trims", "  Maria.Santos@Example.COM ", "maria.santos@example.com", true},
		{"already normalized", "bob@rescue.org", "bob@rescue.org", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"missing at sign", "not-an-email", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeIdentifier(IdentifierKindEmail, tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIdentifier_Phone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"strips formatting", "(415) 555-2671", "4155552671", true},
		{"strips country prefix punctuation", "+1 415 555 2671", "14155552671", true},
		{"too short", "555-2671", "", false},
		{"empty", "", "", false},
		{"letters only", "call me", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeIdentifier(IdentifierKindPhone, tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIdentifier_SecondaryPhoneUsesPhoneRules(t *testing.T) {
	got, ok := NormalizeIdentifier(IdentifierKindSecondaryPhone, "(415) 555-2671")
	assert.True(t, ok)
	assert.Equal(t, "4155552671", got)
}

func TestNormalizeIdentifier_MicrochipAndClinicID(t *testing.T) {
	got, ok := NormalizeIdentifier(IdentifierKindMicrochip, " 985112004567890 ")
	assert.True(t, ok)
	assert.Equal(t, "985112004567890", got)

	got, ok = NormalizeIdentifier(IdentifierKindClinicID, "VC-2291 ")
	assert.True(t, ok)
	assert.Equal(t, "VC-2291", got)

	_, ok = NormalizeIdentifier(IdentifierKindMicrochip, "  ")
	assert.False(t, ok)
}

func TestMatchKind_SecondaryPhoneSharesPhoneSpace(t *testing.T) {
	assert.Equal(t, IdentifierKindPhone, IdentifierKindSecondaryPhone.MatchKind())
	assert.Equal(t, IdentifierKindPhone, IdentifierKindPhone.MatchKind())
	assert.Equal(t, IdentifierKindEmail, IdentifierKindEmail.MatchKind())
}

func TestIdentifierKind_IsValid(t *testing.T) {
	assert.True(t, IdentifierKindEmail.IsValid())
	assert.True(t, IdentifierKindClinicID.IsValid())
	assert.False(t, IdentifierKind("passport").IsValid())
	assert.False(t, IdentifierKind("").IsValid())
}
