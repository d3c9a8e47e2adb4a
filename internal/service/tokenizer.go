package service

import (
	"unicode"
)

// Tokenizer splits reader input into word tokens, in order.
type Tokenizer interface {
	Tokenize(text string) []string
}

type TokenizerFunc func(text string) []string

func (f TokenizerFunc) Tokenize(text string) []string {
	return f(text)
}

// ScriptTokenizer splits on anything that is not a letter, digit or
// combining mark. An elision apostrophe directly after a word stays part of
// it, so δ᾽ and ἄλγε᾽ keep their marker.
var ScriptTokenizer = TokenizerFunc(tokenizeScript)

func isElision(r rune) bool {
	switch r {
	case '\'', '’', 'ʼ', '᾽', '᾿':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.M, r)
}

func tokenizeScript(text string) []string {
	var out []string
	rs := []rune(text)
	for i := 0; i < len(rs); {
		if !isWordRune(rs[i]) {
			i++
			continue
		}
		start := i
		for i < len(rs) && isWordRune(rs[i]) {
			i++
		}
		if i < len(rs) && isElision(rs[i]) {
			i++
		}
		out = append(out, string(rs[start:i]))
	}
	return out
}
