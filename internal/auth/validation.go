package auth

import (
	"regexp"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the email format. Emails are case-sensitive as stored.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) || len(email) >= 255 {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword checks password strength. bcrypt truncates past 72 bytes,
// so longer inputs are rejected outright.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 72 {
		return ErrWeakPassword
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	// Must contain at least 3 of the 4 character classes
	classes := 0
	if hasUpper {
		classes++
	}
	if hasLower {
		classes++
	}
	if hasNumber {
		classes++
	}
	if hasSpecial {
		classes++
	}
	if classes < 3 {
		return ErrWeakPassword
	}

	return nil
}

// PasswordRequirements returns a human-readable list of password rules.
func PasswordRequirements() []string {
	return []string{
		"At least 8 characters long",
		"Maximum 72 characters",
		"Must contain at least 3 of the following:",
		"- Uppercase letters (A-Z)",
		"- Lowercase letters (a-z)",
		"- Numbers (0-9)",
		"- Special characters (!@#$%^&*...)",
	}
}
