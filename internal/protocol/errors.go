package protocol

import "fmt"

const (
	// Transport/request validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Gameplay layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrNotFound        = "E_NOT_FOUND"
	ErrNoResource      = "E_NO_RESOURCE"
	ErrConflict        = "E_CONFLICT"
	ErrAlreadyFinished = "E_ALREADY_FINISHED"
	ErrNotParticipant  = "E_NOT_PARTICIPANT"
	ErrStale           = "E_STALE"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrNoResource:      {},
	ErrConflict:        {},
	ErrAlreadyFinished: {},
	ErrNotParticipant:  {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is the gameplay error carried across package boundaries. Code is one
// of the E_* constants above; Msg is safe to show to the player.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func Errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, or E_INTERNAL for anything
// that is not a *Error.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*Error); ok {
		return pe.Code
	}
	return ErrInternal
}

func IsCode(err error, code string) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}
