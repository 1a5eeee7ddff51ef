package util

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidEmail accepts a bare address without display name.
func IsValidEmail(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// IsValidName reports whether s is a non-blank name of at most max runes.
func IsValidName(s string, max int) bool {
	trimmed := strings.TrimSpace(s)
	return trimmed != "" && utf8.RuneCountInString(trimmed) <= max
}
