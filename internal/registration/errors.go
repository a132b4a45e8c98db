package registration

import (
	"errors"
	"fmt"
)

// Code classifies a registration failure.
type Code string

const (
	CodeInvalidConfig Code = "INVALID_CONFIG"
	CodeMalformedTile Code = "MALFORMED_TILE"
	CodeInternal      Code = "INTERNAL"
)

// Error is returned by every fallible registration entry point.
type Error struct {
	Code    Code
	Tile    int // -1 when the failure is not tied to one tile
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Tile >= 0 {
		msg = fmt.Sprintf("%s (tile %d)", msg, e.Tile)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func configError(format string, args ...any) error {
	return &Error{Code: CodeInvalidConfig, Tile: -1, Message: fmt.Sprintf(format, args...)}
}

func tileError(tile int, cause error, format string, args ...any) error {
	return &Error{Code: CodeMalformedTile, Tile: tile, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func internalError(format string, args ...any) error {
	return &Error{Code: CodeInternal, Tile: -1, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
