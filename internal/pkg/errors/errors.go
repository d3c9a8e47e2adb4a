package errors

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalid    = errors.New("invalid")
	ErrConflict   = errors.New("conflict")
	ErrTooMany    = errors.New("too many requests")
	ErrInternal   = errors.New("internal")
	ErrEncoding   = errors.New("encoding error")
	ErrValidation = errors.New("validation error")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// store-wide configured dimension, at write or query time.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownLanguage   = errors.New("unknown language")

	// ErrModalityTimeout never reaches callers of retrieve; it is recorded in
	// the result metadata.
	ErrModalityTimeout = errors.New("modality timeout")
	ErrCallerCancelled = errors.New("caller cancelled")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
