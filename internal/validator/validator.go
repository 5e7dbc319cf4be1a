// Package validator holds input validation for wire-level identifiers and
// credential hashing for the persistent user table.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// Usernames travel inside colon-delimited keyword lines and @-addressed
	// private messages, so the separators themselves are forbidden.
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

	// Room IDs are six decimal digits.
	roomIDRegex = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidationError reports which field failed and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateUsername checks a proposed display name. The name must be usable
// verbatim in USERS_LIST and PM_FROM lines.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	if username == "" {
		return ValidationError{Field: "username", Message: "username is required"}
	}

	if len(username) > 32 {
		return ValidationError{Field: "username", Message: "username must be at most 32 characters"}
	}

	if !usernameRegex.MatchString(username) {
		return ValidationError{Field: "username", Message: "username can only contain letters, numbers, underscores, and hyphens"}
	}

	return nil
}

// ValidateRoomID checks the six-digit room identifier format.
func ValidateRoomID(roomID string) error {
	if !roomIDRegex.MatchString(roomID) {
		return ValidationError{Field: "room_id", Message: "room ID must be six digits"}
	}
	return nil
}

// ValidateRoomPassword checks a private room password. Public rooms carry no
// password, so empty is allowed.
func ValidateRoomPassword(password string) error {
	if password == "" {
		return nil
	}

	if len(password) > 64 {
		return ValidationError{Field: "password", Message: "room password must be at most 64 characters"}
	}

	return nil
}

// HashPassword creates a bcrypt hash for the users table. Room passwords are
// never hashed; they must be recoverable for GETPASSWORD.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ValidationError{Field: "password", Message: "password is required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// CheckPassword compares a bcrypt hash against a candidate password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
