package domain

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies failures for user-facing notices.
type ErrorKind string

const (
	ErrorKindUnsupportedDevice ErrorKind = "unsupported_device"
	ErrorKindIO                ErrorKind = "io"
	ErrorKindNoImages          ErrorKind = "no_images"
	ErrorKindSessionStart      ErrorKind = "session_start"
	ErrorKindSessionOutput     ErrorKind = "session_output"
	ErrorKindRenameConflict    ErrorKind = "rename_conflict"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// Sentinel classes. Components attach them to concrete causes with
// errors.Mark so errors.Is keeps working across wrapping.
var (
	ErrUnsupportedDevice = errors.New("capture is not supported on this device")
	ErrIO                = errors.New("filesystem access failed")
	ErrNoImages          = errors.New("no images")
	ErrSessionStart      = errors.New("capture session rejected the request")
	ErrSessionOutput     = errors.New("capture session failed")
	ErrRenameConflict    = errors.New("an artifact with that name already exists")
)

// Notice is the single user-visible translation of an error.
type Notice struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

// KindOf maps an error onto the taxonomy. Order matters: ErrNoImages is
// checked before the broader ErrIO class.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedDevice):
		return ErrorKindUnsupportedDevice
	case errors.Is(err, ErrNoImages):
		return ErrorKindNoImages
	case errors.Is(err, ErrIO):
		return ErrorKindIO
	case errors.Is(err, ErrSessionStart):
		return ErrorKindSessionStart
	case errors.Is(err, ErrSessionOutput):
		return ErrorKindSessionOutput
	case errors.Is(err, ErrRenameConflict):
		return ErrorKindRenameConflict
	default:
		return ErrorKindUnknown
	}
}

// NoticeFor converts err into a notice. Cancellation is not an error and
// yields nil.
func NoticeFor(err error) *Notice {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return &Notice{
		Kind:    KindOf(err),
		Message: err.Error(),
		Hint:    errors.FlattenHints(err),
	}
}
