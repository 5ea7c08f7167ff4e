package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrNoMatch is returned when a conditional update matched zero rows.
	ErrNoMatch = errors.New("update condition not met")
)
