// strength.go

// Password strength rules and scoring.
package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum rune count accepted by ValidateStrength.
const MinPasswordLength = 8

// StrengthLevel buckets a strength score.
type StrengthLevel string

const (
	StrengthWeak       StrengthLevel = "weak"
	StrengthMedium     StrengthLevel = "medium"
	StrengthStrong     StrengthLevel = "strong"
	StrengthVeryStrong StrengthLevel = "very-strong"
)

// StrengthReport is the outcome of ValidateStrength.
// Valid is true iff Violations is empty; Score and Level are advisory.
type StrengthReport struct {
	Valid      bool          `json:"valid"`
	Violations []string      `json:"violations"`
	Score      int           `json:"score"`
	Level      StrengthLevel `json:"level"`
}

// commonPasswords is matched case-insensitively.
var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "password1!": {},
	"passw0rd": {}, "p@ssw0rd": {}, "p@ssword": {}, "p@ssw0rd1": {},
	"123456": {}, "12345678": {}, "123456789": {}, "1234567890": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {}, "1q2w3e4r": {},
	"abc123": {}, "letmein": {}, "letmein1!": {}, "welcome": {}, "welcome1": {},
	"welcome123": {}, "admin": {}, "admin123": {}, "administrator": {},
	"iloveyou": {}, "monkey": {}, "dragon": {}, "football": {}, "baseball": {},
	"sunshine": {}, "princess": {}, "changeme": {}, "secret": {}, "trustno1": {},
	"111111": {}, "000000": {}, "master": {}, "superman": {}, "summer2024": {},
}

// symbolChars satisfies the symbol rule; any other non-alphanumeric printable rune counts too.
const symbolChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// ValidateStrength checks password against every rule and scores it 0-100.
// Pure: no state, no side effects.
func ValidateStrength(password string) StrengthReport {
	violations := []string{}

	if password == "" {
		violations = append(violations, "No password provided")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return StrengthReport{
				Violations: []string{"Password contains invalid characters"},
				Level:      StrengthWeak,
			}
		}
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(symbolChars, r), unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r):
			hasSymbol = true
		}
	}

	if !hasLower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if !hasUpper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if !hasDigit {
		violations = append(violations, "Password must contain at least one digit")
	}
	if !hasSymbol {
		violations = append(violations, "Password must contain at least one symbol")
	}

	_, common := commonPasswords[strings.ToLower(password)]
	if common {
		violations = append(violations, "Password is too common")
	}

	score := strengthScore(password, hasLower, hasUpper, hasDigit, hasSymbol)
	if common {
		score = min(score, 10)
	}

	return StrengthReport{
		Valid:      len(violations) == 0,
		Violations: violations,
		Score:      score,
		Level:      strengthLevel(score),
	}
}

// strengthScore: up to 40 for length, 40 for character classes, 20 for rune
// uniqueness, minus 5 per repeated or sequential triple.
func strengthScore(password string, classes ...bool) int {
	runes := []rune(password)
	if len(runes) == 0 {
		return 0
	}

	score := min(len(runes)*4, 40)
	for _, has := range classes {
		if has {
			score += 10
		}
	}

	unique := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		unique[unicode.ToLower(r)] = struct{}{}
	}
	score += len(unique) * 20 / len(runes)

	for i := 2; i < len(runes); i++ {
		a := unicode.ToLower(runes[i-2])
		b := unicode.ToLower(runes[i-1])
		c := unicode.ToLower(runes[i])
		if a == b && b == c {
			score -= 5
			continue
		}
		if isSequential(a, b, c) {
			score -= 5
		}
	}

	return max(0, min(score, 100))
}

// isSequential matches "abc", "cba", "123", "321".
func isSequential(a, b, c rune) bool {
	alnum := func(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') }
	if !alnum(a) || !alnum(b) || !alnum(c) {
		return false
	}
	up := b-a == 1 && c-b == 1
	down := a-b == 1 && b-c == 1
	return up || down
}

func strengthLevel(score int) StrengthLevel {
	switch {
	case score < 30:
		return StrengthWeak
	case score < 60:
		return StrengthMedium
	case score < 80:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}
