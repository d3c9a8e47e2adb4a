// Package errcode holds the numeric codes carried in API error envelopes.
package errcode

// Code is the "code" field of a failed response. Zero means success.
type Code uint32

const (
	ErrUnknown Code = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrEncoding
	ErrValidation
	ErrDimensionMismatch
	ErrUnknownLanguage
	ErrCancelled
	ErrEmbeddingUnavailable
)
