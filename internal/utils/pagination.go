// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageParams parses 1-indexed page/page_size strings, applying the given
// default size and capping page_size at maxSize. Page is floored at 1 and
// page_size at 1, so the returned pair is always usable for
// offset = (page-1)*size.
func PageParams(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeStr, defSize)
	if size < 1 {
		size = 1
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return page, size
}

// TotalPages returns ceil(total/size) for pagination metadata; size <= 0
// yields 0.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
