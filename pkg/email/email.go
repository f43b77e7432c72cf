package email

import (
	"strings"
	"unicode"
)

// Normalize lower-cases and trims an email address. Challenge keys and lookups
// must agree on one canonical form, so every entry point normalizes first.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Valid is a cheap structural check: one '@' with non-empty local and domain
// parts. Deliverability is the notification provider's problem.
func Valid(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return !strings.ContainsAny(email, " \t\r\n") && strings.Contains(domain, ".")
}

// DeriveNameFromEmail extracts a displayable first/last name from the local
// part of an address, for notification payloads that want a salutation.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
