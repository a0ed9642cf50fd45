package models

import (
	"regexp"
	"strconv"
	"strings"
)

var lockCodePattern = regexp.MustCompile(`^\d{4}$`)

// Cart is one unit of the shared pool.
type Cart struct {
	Name     string `json:"name"`
	LockCode string `json:"lock_code"`
	Active   bool   `json:"active"`
}

// ValidLockCode reports whether code is exactly four digits.
func ValidLockCode(code string) bool {
	return lockCodePattern.MatchString(code)
}

// ParseActive reads the active flag as it is written by hand in the sheet.
func ParseActive(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "да", "yes", "1", "true":
		return true
	default:
		return false
	}
}

// FormatActive is the inverse of ParseActive.
func FormatActive(active bool) string {
	if active {
		return "yes"
	}
	return "no"
}

// CompareCartNames orders names naturally: a trailing number is compared as an
// integer, so "Cart 2" sorts before "Cart 10".
func CompareCartNames(a, b string) int {
	pa, na, oka := splitNumericSuffix(a)
	pb, nb, okb := splitNumericSuffix(b)
	if oka && okb && pa == pb {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
	}
	return strings.Compare(a, b)
}

func splitNumericSuffix(name string) (string, int, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return name, 0, false
	}
	return strings.TrimSpace(name[:i]), n, true
}
