package facematch

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidUserID is returned for user ids that are too short after trimming.
var ErrInvalidUserID = errors.New("invalid user id")

// NormalizeUserID trims whitespace and NFC-normalizes a user id so that the same
// name typed on different keyboards maps to the same identity key.
func NormalizeUserID(id string, minLen int) (string, error) {
	id = norm.NFC.String(strings.TrimSpace(id))
	if utf8.RuneCountInString(id) < minLen {
		return "", ErrInvalidUserID
	}
	return id, nil
}
