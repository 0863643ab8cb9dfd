// Package utils provides small, generic helpers shared by the HTTP and
// service layers. They carry no domain knowledge.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageOffset normalizes a 1-based page and its size and returns the row
// offset. page < 1 becomes 1; pageSize <= 0 becomes defSize.
func PageOffset(page, pageSize, defSize int) (p, size, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defSize
	}
	return page, pageSize, (page - 1) * pageSize
}

// TotalPages is the number of pages of pageSize needed for total rows.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
