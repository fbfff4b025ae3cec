package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// commonPasswords is a small deny-list of passwords seen in every breach
// corpus. Matched case-insensitively and as-is, not as substrings.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"letmein123":  {},
	"iloveyou1":   {},
	"admin123":    {},
	"welcome1":    {},
	"sunshine1":   {},
	"monkey123":   {},
	"dragon123":   {},
}

// PasswordPolicy validates password strength. Zero-value rules are filled by
// DefaultPasswordPolicy; Validate is a pure function over its inputs.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy returns the platform's standard password rules.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

// UserInfo carries account attributes a password must not embed.
type UserInfo struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
}

// PolicyResult is the outcome of a password validation. Violations block;
// warnings do not.
type PolicyResult struct {
	OK         bool
	Violations []string
	Warnings   []string
}

// Validate checks the password against the policy and against the user's own
// identifying data. All violations are collected rather than failing fast so
// the caller can report them together.
func (p PasswordPolicy) Validate(password string, info UserInfo) PolicyResult {
	var result PolicyResult

	if len(password) < p.MinLength {
		result.Violations = append(result.Violations, fmt.Sprintf("must be at least %d characters long", p.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if p.RequireUppercase && !hasUpper {
		result.Violations = append(result.Violations, "must contain an uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		result.Violations = append(result.Violations, "must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		result.Violations = append(result.Violations, "must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		result.Violations = append(result.Violations, "must contain a special character")
	}

	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		result.Violations = append(result.Violations, "is too common")
	}

	if source := contextualMatch(lower, info); source != "" {
		result.Violations = append(result.Violations, "must not contain your "+source)
	}

	if hasSequentialRun(lower) {
		result.Warnings = append(result.Warnings, "contains a sequential character run")
	}
	if hasRepeatedRun(password) {
		result.Warnings = append(result.Warnings, "contains repeated characters")
	}

	result.OK = len(result.Violations) == 0
	return result
}

// contextualMatch reports which personal attribute the password embeds a
// fragment of, or "" when none. Fragments shorter than 3 characters are
// ignored to avoid false positives on common bigrams.
func contextualMatch(lowerPassword string, info UserInfo) string {
	sources := []struct {
		name  string
		value string
	}{
		{"email address", emailLocalPart(info.Email)},
		{"username", info.Username},
		{"first name", info.FirstName},
		{"last name", info.LastName},
	}
	for _, src := range sources {
		value := strings.ToLower(strings.TrimSpace(src.value))
		if len(value) < 3 {
			continue
		}
		for i := 0; i+3 <= len(value); i++ {
			if strings.Contains(lowerPassword, value[i:i+3]) {
				return src.name
			}
		}
	}
	return ""
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// hasSequentialRun detects three or more consecutively ascending or
// descending characters, e.g. "abc" or "321".
func hasSequentialRun(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		a, b, c := runes[i], runes[i+1], runes[i+2]
		if b == a+1 && c == b+1 {
			return true
		}
		if b == a-1 && c == b-1 {
			return true
		}
	}
	return false
}

// hasRepeatedRun detects three or more identical characters in a row.
func hasRepeatedRun(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		if runes[i] == runes[i+1] && runes[i+1] == runes[i+2] {
			return true
		}
	}
	return false
}
