package sdimage

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ImageError is the error type returned by all codecs, writers and readers in
// this module. Every error can be matched against one of the sentinels below
// with [errors.Is], no matter how many times it was wrapped or annotated.
type ImageError interface {
	error
	WithMessage(message string) ImageError
	Wrap(err error) ImageError
}

type baseImageError string

const rootError = baseImageError("")

// ErrBadInputSize is returned when the raw image is not a multiple of the page
// size, is too large for 32-bit offsets, or has fewer pages than the format
// minimum. It is always reported before the output file is created.
var ErrBadInputSize = rootError.WithMessage("Bad input image size")

// ErrShortRead is returned when an input stream yields fewer bytes than needed.
var ErrShortRead = rootError.WithMessage("Short read")

// ErrShortWrite is returned when an output stream accepts fewer bytes than
// given to it.
var ErrShortWrite = rootError.WithMessage("Short write")

// ErrFieldOverflow is returned when a header or directory field cannot hold the
// value that must be written to it. Nothing is written when this happens.
var ErrFieldOverflow = rootError.WithMessage("Value does not fit in field")

// ErrCorruptPage is returned when a compressed page cannot be decoded. It only
// affects the page being decoded.
var ErrCorruptPage = rootError.WithMessage("Corrupt compressed page")

var ErrBadMagic = rootError.WithMessage("Not a compressed block image")
var ErrCorruptHeader = rootError.WithMessage("Corrupt container header")
var ErrPageOutOfRange = rootError.WithMessage("Page index out of range")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")

func (e baseImageError) Error() string {
	return string(e)
}

func (e baseImageError) WithMessage(message string) ImageError {
	return customImageError{
		message:       message,
		originalError: e,
	}
}

func (e baseImageError) Wrap(err error) ImageError {
	return customImageError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customImageError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customImageError) Error() string {
	return e.message
}

func (e customImageError) WithMessage(message string) ImageError {
	return customImageError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

// Wrap attaches `err` as a second parent of this error. Both remain reachable
// through [errors.Is] and [errors.As].
func (e customImageError) Wrap(err error) ImageError {
	return customImageError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customImageError) Unwrap() error {
	return e.originalError
}
