package utils

import (
	"strings"
)

func DereferencePtr[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// TruncateReference trims a transfer reference down to a rail's field-length
// limit, cutting on the rune boundary so multi-byte names never produce an
// invalid string.
func TruncateReference(ref string, maxLen int) string {
	ref = strings.TrimSpace(ref)
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(ref)
	if len(runes) <= maxLen {
		return ref
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}

// Surname returns the last whitespace-separated token of a full name.
func Surname(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// SameName compares two display names ignoring case, surrounding space and
// repeated inner whitespace. Providers disagree on all three.
func SameName(a, b string) bool {
	return foldName(a) == foldName(b)
}

func foldName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// IsPlaceholderEmail reports whether an email address is one of the synthetic
// addresses upstream systems fill in when the payee never provided one.
func IsPlaceholderEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return true
	}
	if strings.HasPrefix(email, "noemail") || strings.HasPrefix(email, "no-reply") {
		return true
	}
	return strings.HasSuffix(email, "@placeholder.local") || strings.HasSuffix(email, "@example.com")
}
