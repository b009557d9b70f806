package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAmbiguousMergeTarget = errors.New("merge target chain cannot be resolved")
	ErrInvalidEntityType    = errors.New("invalid entity type")
	ErrInvalidIdentifier    = errors.New("invalid identifier kind")
	ErrMergeTypeMismatch    = errors.New("entities of different types cannot be merged")
	ErrAlreadyMerged        = errors.New("entity is already merged into another")
)
