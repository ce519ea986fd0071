package models

import "strconv"

func uintKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseKey converts a line key back into a server id. Temporary keys yield 0.
func ParseKey(key string) uint {
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
