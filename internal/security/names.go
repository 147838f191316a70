// Package security validates identifiers that clients send to the relay
// before they reach logs, status endpoints or the history database.
package security

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxRoomNameLength bounds room names in bytes.
const MaxRoomNameLength = 64

var (
	// ErrEmptyName is returned for an empty room name.
	ErrEmptyName = errors.New("room name must not be empty")
	// ErrNameTooLong is returned for names over MaxRoomNameLength bytes.
	ErrNameTooLong = errors.New("room name too long")
	// ErrNameCharacters is returned for names with characters outside
	// ASCII letters, digits, dot, underscore, dash and colon.
	ErrNameCharacters = errors.New("room name has invalid characters")
)

func allowedNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-' || r == ':':
		return true
	}
	return false
}

// ValidateRoomName checks that name is usable as a room name.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxRoomNameLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrNameTooLong, len(name), MaxRoomNameLength)
	}
	for i, r := range name {
		if !allowedNameRune(r) {
			return fmt.Errorf("%w: %q at byte %d", ErrNameCharacters, r, i)
		}
	}
	return nil
}

// SanitizeRoomName makes a valid room name from an arbitrary string, for
// deriving room names from user-facing labels. Disallowed characters become
// underscores, repeated underscores collapse, and the result is trimmed to
// MaxRoomNameLength. An input with nothing usable yields "default".
func SanitizeRoomName(s string) string {
	out := make([]byte, 0, len(s))
	lastUnderscore := false
	for _, r := range s {
		if len(out) >= MaxRoomNameLength {
			break
		}
		if allowedNameRune(r) {
			out = utf8.AppendRune(out, r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			out = append(out, '_')
			lastUnderscore = true
		}
	}
	// Trim leading/trailing underscores
	for len(out) > 0 && out[0] == '_' {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == '_' {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
