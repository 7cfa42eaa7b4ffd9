package model

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d bytes", protocol.MaxNameLength)
var ErrNameInvalidChars = errors.New("name must be valid UTF-8 without spaces or control characters")

// ValidateUsername checks a display name: 1-63 bytes of printable UTF-8 with
// no whitespace, so it survives the fixed-size wire field unchanged.
func ValidateUsername(name string) error {
	return validateName(name)
}

// ValidateRoomName applies the same rules to room names. Rooms are joined
// with "join <room>", so a name is a single word.
func ValidateRoomName(name string) error {
	return validateName(name)
}

func validateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > protocol.MaxNameLength {
		return ErrNameTooLong
	}
	if !utf8.ValidString(name) {
		return ErrNameInvalidChars
	}
	for _, r := range name {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return ErrNameInvalidChars
		}
	}
	return nil
}
