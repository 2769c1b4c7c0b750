// Package utils provides small, generic helper functions used across
// different layers of the application, independent of domain logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int, returning def when the string is
// empty or not a valid integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds normalizes (page, pageSize) query values and returns the
// offset/limit pair for the store. Page numbers start at 1; sizes are
// clamped to [1, maxSize].
func PageBounds(page, pageSize, maxSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return (page - 1) * pageSize, pageSize
}
