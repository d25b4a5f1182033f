// Package validate holds the input-shape checks applied to registration and
// login payloads. Every function is pure.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MinNameLength     = 2
	MaxNameLength     = 50

	// PasswordSpecials is the set a password must draw at least one character from.
	PasswordSpecials = "@$!%*?&"
)

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email reports whether s looks like an address: local@domain.tld, no
// whitespace, at most MaxEmailLength bytes.
func Email(s string) bool {
	if len(s) > MaxEmailLength {
		return false
	}
	return emailShape.MatchString(s)
}

// Password reports whether s satisfies the password policy.
func Password(s string) bool {
	return len(PasswordIssues(s)) == 0
}

// PasswordIssues lists the policy rules s violates, in a stable order.
// Letter and digit classes are ASCII only; other runes count toward length.
func PasswordIssues(s string) []string {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range s {
		switch {
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case 'a' <= r && r <= 'z':
			hasLower = true
		case '0' <= r && r <= '9':
			hasDigit = true
		case strings.ContainsRune(PasswordSpecials, r):
			hasSpecial = true
		}
	}

	var issues []string
	if utf8.RuneCountInString(s) < MinPasswordLength {
		issues = append(issues, "must be at least 8 characters")
	}
	if !hasUpper {
		issues = append(issues, "must contain an uppercase letter")
	}
	if !hasLower {
		issues = append(issues, "must contain a lowercase letter")
	}
	if !hasDigit {
		issues = append(issues, "must contain a digit")
	}
	if !hasSpecial {
		issues = append(issues, "must contain one of "+PasswordSpecials)
	}
	return issues
}

// Name reports whether s, once trimmed, is between MinNameLength and
// MaxNameLength characters.
func Name(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= MinNameLength && n <= MaxNameLength
}

// SanitizeInput trims s and strips angle brackets. Output still needs
// context-aware encoding where it is rendered.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, s)
}

// NormalizeEmail trims and lower-cases an address for use as a lookup key.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
