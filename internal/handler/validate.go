package handler

import (
	"fmt"
	"net/mail"
	"unicode"
)

// validateEmail rejects malformed addresses before they reach business
// logic.
func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// validatePassword enforces the registration password policy: at least 8
// characters with one uppercase letter, one lowercase letter, and one digit.
func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("password must contain an uppercase letter, a lowercase letter, and a digit")
	}
	return nil
}

// validateName checks a required name field.
func validateName(field, value string) error {
	if len(value) < 2 {
		return fmt.Errorf("%s must be at least 2 characters", field)
	}
	return nil
}
