package models

import "strings"

// User is a person allowed to reserve carts.
type User struct {
	Handle string `json:"handle"`
	ChatID int64  `json:"chat_id"`
}

// NormalizeHandle strips a leading "@" and lowercases the handle so that
// "@Ivan" and "ivan" refer to the same user.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
