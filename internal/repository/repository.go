// Package repository persists items and their analysis results. Items and
// results live in separate tables keyed by item id; the only write touching
// both is the completion transaction.
package repository

import "errors"

var (
	// ErrNotFound is returned when no item or result exists for the id.
	ErrNotFound = errors.New("not found")
)
