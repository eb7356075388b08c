package internal

import "errors"

// Error kinds shared by the reconciliation packages. Callers branch with errors.Is.
var (
	// ErrInferenceFailed: the label carries no recognizable level or grade.
	ErrInferenceFailed = errors.New("course inference failed")
	// ErrNoConfidentMatch: no catalog course scored at or above the match threshold.
	ErrNoConfidentMatch = errors.New("no confident course match")
	// ErrLocatorMiss is informational; the item is kept without coordinates.
	ErrLocatorMiss = errors.New("item not located in pdf")

	ErrItemNotFound   = errors.New("item not found in latest version")
	ErrEmptyLedger    = errors.New("course has no materials versions")
	ErrCourseNotFound = errors.New("course not found")

	// ErrConflict is returned by the store when a course was modified since it was read.
	ErrConflict = errors.New("course write conflict")
)
