package models

import "errors"

// Custom errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateKey    = errors.New("duplicate key violation")
	ErrDuplicatePath   = errors.New("duplicate path in manifest")
	ErrEmptyStore      = errors.New("manifest store is empty")
	ErrIO              = errors.New("file access failed")
	ErrUnknownInput    = errors.New("input not covered by manifest")
	ErrNonDeterminism  = errors.New("conflicting result for identical fingerprint triple")
	ErrUntrustedResult = errors.New("result fingerprints do not resolve in manifest")
	ErrDriftDetected   = errors.New("drift detected against manifest")
	ErrContentMismatch = errors.New("file content does not match fingerprint")
	ErrInvalidDigest   = errors.New("invalid digest format")
)
