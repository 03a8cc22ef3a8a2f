// Package validate provides centralized input validation and sanitization
// utilities for the Merchflow API.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}

	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// couponCodePattern allows uppercase letters, digits, dash and underscore.
var couponCodePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// CouponCode validates a coupon code:
// - 1-64 characters
// - Letters, numbers, dash, underscore only
func CouponCode(code string) (string, error) {
	return String(code, StringConstraints{
		MinLength:      1,
		MaxLength:      64,
		AllowedPattern: couponCodePattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}

// ItemName validates a line item name:
// - Required (not empty)
// - Max 200 characters
func ItemName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength:  1,
		MaxLength:  200,
		AllowEmpty: false,
		TrimSpace:  true,
	})
}

// currencyPattern matches a three-letter ISO 4217 code.
var currencyPattern = regexp.MustCompile(`^[a-zA-Z]{3}$`)

// Currency validates and normalizes a three-letter currency code.
func Currency(code string) (string, error) {
	validated, err := String(code, StringConstraints{
		AllowedPattern: currencyPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(validated), nil
}
