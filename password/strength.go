package password

import (
	"strings"
	"unicode"
)

// specialChars is the fixed punctuation set accepted by the strength policy.
const specialChars = "!@#$%^&*(),.?\":{}|<>"

// Strength rule messages. Callers surface these verbatim.
const (
	IssueTooShort  = "Password must be at least 8 characters long"
	IssueUppercase = "Password must contain at least one uppercase letter"
	IssueLowercase = "Password must contain at least one lowercase letter"
	IssueDigit     = "Password must contain at least one digit"
	IssueSpecial   = "Password must contain at least one special character"
)

// CheckStrength evaluates the fixed rule set: length >= 8, at least one
// uppercase letter, one lowercase letter, one digit and one character from
// the special set. It returns every violated rule, not just the first.
func CheckStrength(password string) (bool, []string) {
	var issues []string

	if len(password) < 8 {
		issues = append(issues, IssueTooShort)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(specialChars, r) {
			special = true
		}
	}

	if !upper {
		issues = append(issues, IssueUppercase)
	}
	if !lower {
		issues = append(issues, IssueLowercase)
	}
	if !digit {
		issues = append(issues, IssueDigit)
	}
	if !special {
		issues = append(issues, IssueSpecial)
	}

	return len(issues) == 0, issues
}
