package room

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when a room id has no live entry.
	ErrRoomNotFound = errors.New("room not found")

	// ErrPlayerNotFound is returned when the acting player is not in the room.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrRunNotFound is returned when a run id has no entry in the room.
	ErrRunNotFound = errors.New("run not found")

	// ErrNotOwner is returned for owner-only operations requested by
	// another player.
	ErrNotOwner = errors.New("only the room owner can do this")

	// ErrNotRunOwner is returned when a player acts on a run they do not own.
	ErrNotRunOwner = errors.New("only the run's player can do this")

	// ErrRoomNotRunning is returned for race operations while the room is
	// in the lobby or finished.
	ErrRoomNotRunning = errors.New("room is not running")

	// ErrRunNotRunning is returned for operations on a run that has not
	// started or already finished.
	ErrRunNotRunning = errors.New("run is not running")

	// ErrLLMRunLimit is returned when a room already holds the maximum
	// number of unfinished LLM runs.
	ErrLLMRunLimit = errors.New("LLM run limit reached for this room")

	// ErrWrongRunKind is returned when an operation targets a run of the
	// other kind: cancel/restart are LLM-only, abandon is human-only.
	ErrWrongRunKind = errors.New("operation does not apply to this run kind")

	// ErrInvariant marks room state that should be impossible; surfaced to
	// clients as a 500 with the detail string.
	ErrInvariant = errors.New("invariant violation")
)

// IllegalMoveError reports a move target that is not linked from the
// current article.
type IllegalMoveError struct {
	From string
	To   string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move: %q is not a link of %q", e.To, e.From)
}

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
