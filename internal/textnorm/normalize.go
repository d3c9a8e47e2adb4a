// Package textnorm canonicalises raw text into the two parallel forms every
// text-bearing entity carries: the NFC form used for display and the folded
// form used only for fuzzy matching.
package textnorm

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

// Normalize returns the NFC composition of raw and its folded equality class.
// Invalid UTF-8 fails with ErrEncoding instead of dropping bytes.
func Normalize(raw string) (nfc string, folded string, err error) {
	if !utf8.ValidString(raw) {
		return "", "", fmt.Errorf("normalize: %w", appErr.ErrEncoding)
	}
	nfc = norm.NFC.String(raw)
	folded, err = foldValid(nfc)
	if err != nil {
		return "", "", err
	}
	return nfc, folded, nil
}

// NFC returns the canonical composition of s.
func NFC(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("nfc: %w", appErr.ErrEncoding)
	}
	return norm.NFC.String(s), nil
}

// Fold strips combining marks and case-folds s. Greek final sigma folds to
// medial sigma and iota subscript is dropped with the other marks.
func Fold(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("fold: %w", appErr.ErrEncoding)
	}
	return foldValid(s)
}

// MustFold is Fold for strings already known to be valid UTF-8, such as
// stored lemmas. Invalid input folds to the empty string.
func MustFold(s string) string {
	folded, err := Fold(s)
	if err != nil {
		return ""
	}
	return folded
}

func foldValid(s string) (string, error) {
	// transformers carry state, build a fresh chain per call
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Fold(),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("fold: %w", appErr.ErrEncoding)
	}
	return out, nil
}
