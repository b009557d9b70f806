// Package models contains domain types for identity-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the concrete kind of an entity record.
type EntityType string

const (
	EntityTypePerson EntityType = "person"
	EntityTypeCat    EntityType = "cat"
	EntityTypePlace  EntityType = "place"
)

// IsValid returns true if the entity type is one of the known kinds.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypePerson, EntityTypeCat, EntityTypePlace:
		return true
	default:
		return false
	}
}

// DataSource records which pipeline created or last touched an entity.
type DataSource string

const (
	DataSourceLegacyImport DataSource = "legacy_import"
	DataSourceSync         DataSource = "sync"
	DataSourceFileUpload   DataSource = "file_upload"
	DataSourceApp          DataSource = "app"
)

// Entity is a person, cat, or place record. An entity with MergedIntoEntityID
// set is a duplicate; one without it is canonical. Duplicates are never
// physically deleted.
type Entity struct {
	ID               uuid.UUID
	EntityType       EntityType
	DisplayName      string
	DataSource       DataSource
	Address          *string
	FormattedAddress *string
	VerifiedAt       *time.Time
	VerifiedBy       *string

	// Derived account-type classification (persons only).
	AccountType           *AccountType
	AccountTypeConfidence *float64
	AccountTypeReason     *string

	// Merge pointer. MergedIntoSourceRecordID is a placeholder used when the
	// merge target has not been imported locally yet.
	MergedIntoEntityID       *uuid.UUID
	MergedIntoSourceRecordID *string

	SourceRecordID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsDuplicate reports whether this entity has been merged into another.
func (e *Entity) IsDuplicate() bool {
	return e.MergedIntoEntityID != nil || e.MergedIntoSourceRecordID != nil
}

// IsProtected reports whether the entity is exempt from automated mutation.
// Records created through the primary application or verified by a human are
// only editable manually.
func (e *Entity) IsProtected() bool {
	return e.DataSource == DataSourceApp || e.VerifiedAt != nil
}
