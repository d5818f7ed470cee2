package model

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("invalid input")
	// ErrNotEligible indicates the account is not allowed to perform the operation.
	ErrNotEligible = errors.New("account not eligible")
	// ErrDuplicateIdentifier indicates the identifier value is already registered.
	ErrDuplicateIdentifier = errors.New("identifier already exists")
	// ErrStoreContention indicates a write transaction lost to a conflicting one
	// and retries were exhausted. Safe to retry from the caller side.
	ErrStoreContention = errors.New("store contention")
)
