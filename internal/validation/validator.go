package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Common validation errors
var (
	ErrInvalidUsername    = errors.New("invalid username format")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidIdentifier  = errors.New("invalid identifier format")
	ErrInvalidEnum        = errors.New("invalid enum value")
	ErrStringTooLong      = errors.New("string exceeds maximum length")
	ErrStringTooShort     = errors.New("string below minimum length")
	ErrContainsSQLPattern = errors.New("input contains suspicious SQL patterns")
	ErrContainsXSSPattern = errors.New("input contains suspicious XSS patterns")
)

// Regex patterns for validation
var (
	usernameRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,36}$`)
	configNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

	// SQL injection patterns (common attack vectors)
	sqlPatterns = []string{
		"'", "\"", ";", "--", "/*", "*/", "xp_", "sp_",
		"exec", "execute", "select", "insert", "update", "delete",
		"drop", "create", "alter", "union", "script",
	}

	// XSS patterns
	xssPatterns = []string{
		"<script", "</script", "javascript:", "onerror=", "onload=",
		"<iframe", "</iframe", "<object", "</object", "eval(",
	}
)

// ValidateUsername validates operator username format
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("%w: username must be >= 3 characters", ErrStringTooShort)
	}
	if len(username) > 20 {
		return fmt.Errorf("%w: username must be <= 20 characters", ErrStringTooLong)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: username can only contain letters, numbers, underscore, and hyphen", ErrInvalidUsername)
	}
	return nil
}

// ValidatePassword validates password strength
func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrWeakPassword)
	}
	if len(password) > 128 {
		return fmt.Errorf("%w: password must be <= 128 characters", ErrStringTooLong)
	}

	// Check for at least one uppercase, one lowercase, and one number
	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		}
	}

	if !hasUpper || !hasLower || !hasNumber {
		return fmt.Errorf("%w: password must contain at least one uppercase letter, one lowercase letter, and one number", ErrWeakPassword)
	}

	return nil
}

// ValidateGuildID validates a chat platform guild identifier. Snowflake ids
// and opaque short tokens both pass; free text does not.
func ValidateGuildID(id string) error {
	if id == "" {
		return errors.New("guild id is required")
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("%w: guild id can only contain letters, numbers, underscore, and hyphen", ErrInvalidIdentifier)
	}
	return nil
}

// ValidateConfigName validates a settings document name
func ValidateConfigName(name string) error {
	if name == "" {
		return errors.New("config name is required")
	}
	if !configNameRegex.MatchString(name) {
		return fmt.Errorf("%w: config name can only contain letters, numbers, underscore, and hyphen", ErrInvalidIdentifier)
	}
	return nil
}

// ValidateEnum validates value is in allowed list
func ValidateEnum(value string, allowed []string, fieldName string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %v", ErrInvalidEnum, fieldName, allowed)
}

// ValidateStringLength validates string length
func ValidateStringLength(value string, minLen, maxLen int, fieldName string) error {
	if len(value) < minLen {
		return fmt.Errorf("%w: %s must be at least %d characters", ErrStringTooShort, fieldName, minLen)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrStringTooLong, fieldName, maxLen)
	}
	return nil
}

// SanitizeString removes null bytes and trims surrounding whitespace.
// Sanitization complements parameterized queries, it never replaces them.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	return input
}

// CheckSQLInjection checks for common SQL injection patterns
func CheckSQLInjection(input string) error {
	lower := strings.ToLower(input)
	for _, pattern := range sqlPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return fmt.Errorf("%w: contains '%s'", ErrContainsSQLPattern, pattern)
		}
	}
	return nil
}

// CheckXSS checks for common XSS patterns
func CheckXSS(input string) error {
	lower := strings.ToLower(input)
	for _, pattern := range xssPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return fmt.Errorf("%w: contains '%s'", ErrContainsXSSPattern, pattern)
		}
	}
	return nil
}

// ValidateSafeString validates and sanitizes a general string input
func ValidateSafeString(input string, minLen, maxLen int, fieldName string) (string, error) {
	sanitized := SanitizeString(input)

	if err := ValidateStringLength(sanitized, minLen, maxLen, fieldName); err != nil {
		return "", err
	}

	if err := CheckSQLInjection(sanitized); err != nil {
		return "", fmt.Errorf("%s: %w", fieldName, err)
	}

	if err := CheckXSS(sanitized); err != nil {
		return "", fmt.Errorf("%s: %w", fieldName, err)
	}

	return sanitized, nil
}

// ValidateStreamName validates a streamer's display name. The name is
// echoed into announcements, so it goes through the safe-string checks.
func ValidateStreamName(name string) error {
	sanitized, err := ValidateSafeString(name, 1, 100, "streamer name")
	if err != nil {
		return err
	}
	if sanitized != name {
		return errors.New("streamer name contains invalid characters")
	}
	return nil
}

// ValidateStreamRoom validates the optional room id and spectator code a
// streamer publishes. Empty values mean the room is not shared yet.
func ValidateStreamRoom(roomID, roomCode string) error {
	if roomID != "" {
		if _, err := ValidateSafeString(roomID, 1, 64, "room id"); err != nil {
			return err
		}
	}
	if roomCode != "" {
		if _, err := ValidateSafeString(roomCode, 1, 32, "room code"); err != nil {
			return err
		}
	}
	return nil
}
