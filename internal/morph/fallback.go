package morph

import (
	"context"
	"strings"
	"unicode/utf8"
)

// SuffixRule rewrites a folded ending to the folded ending of the citation
// form, e.g. "ειν" to "ω" for a Greek present infinitive.
type SuffixRule struct {
	Ending  string
	Replace string
}

// minStem keeps rules from reducing a word to a bare ending.
const minStem = 2

// DefaultRules are the ending rewrites per language. Folded Greek uses σ for
// final sigma.
var DefaultRules = map[string][]SuffixRule{
	"grc": {
		{"ουσιν", "ω"}, {"ουσι", "ω"}, {"ομεν", "ω"}, {"ετε", "ω"}, {"ειν", "ω"},
		{"εισ", "ω"}, {"ει", "ω"}, {"ε", "ω"}, {"ον", "ω"},
		{"οισ", "οσ"}, {"ουσ", "οσ"}, {"ου", "οσ"}, {"ων", "οσ"}, {"οι", "οσ"}, {"ον", "οσ"}, {"ω", "οσ"}, {"ε", "οσ"},
		{"ησ", "η"}, {"ην", "η"}, {"ηι", "η"}, {"αι", "η"},
		{"ασ", "α"}, {"αν", "α"}, {"αι", "α"},
		{"ιδοσ", "ισ"}, {"ιοσ", "ισ"}, {"εωσ", "ισ"}, {"ιν", "ισ"},
		{"ησ", "ευσ"}, {"εωσ", "ευσ"}, {"εα", "ευσ"},
	},
	"lat": {
		{"arum", "a"}, {"ae", "a"}, {"am", "a"}, {"as", "a"}, {"is", "a"},
		{"orum", "us"}, {"um", "us"}, {"os", "us"}, {"is", "us"}, {"i", "us"}, {"o", "us"},
		{"um", ""}, {"i", ""}, {"o", ""},
		{"ibus", "is"}, {"em", "is"}, {"es", "is"}, {"e", "is"},
		{"amus", "o"}, {"atis", "o"}, {"ant", "o"}, {"are", "o"}, {"at", "o"}, {"as", "o"},
		{"imus", "o"}, {"itis", "o"}, {"unt", "o"}, {"ere", "o"}, {"it", "o"}, {"is", "o"},
	},
}

// DefaultEnclitics are stripped before the ending rules run.
var DefaultEnclitics = map[string][]string{
	"lat": {"que", "ne", "ve"},
	"grc": {"τε", "δε"},
}

// SuffixLemmatizer guesses a lemma by rewriting endings and accepts a guess
// only when it names a lexeme of the language.
type SuffixLemmatizer struct {
	src       SnapshotSource
	rules     map[string][]SuffixRule
	enclitics map[string][]string
}

func NewSuffixLemmatizer(src SnapshotSource, rules map[string][]SuffixRule, enclitics map[string][]string) *SuffixLemmatizer {
	if rules == nil {
		rules = DefaultRules
	}
	if enclitics == nil {
		enclitics = DefaultEnclitics
	}
	return &SuffixLemmatizer{src: src, rules: rules, enclitics: enclitics}
}

func (l *SuffixLemmatizer) Lemmatize(ctx context.Context, language, surfaceFold string) (string, bool) {
	snap := l.src.Snapshot()
	known := func(fold string) (string, bool) {
		if lex := firstLexeme(snap.LexemesByFold(language, fold)); lex != nil {
			return lex.Lemma, true
		}
		return "", false
	}
	for _, base := range l.bases(language, surfaceFold) {
		if lemma, ok := known(base); ok {
			return lemma, true
		}
		for _, rule := range l.rules[language] {
			stem, ok := strings.CutSuffix(base, rule.Ending)
			if !ok || utf8.RuneCountInString(stem) < minStem {
				continue
			}
			if lemma, ok := known(stem + rule.Replace); ok {
				return lemma, true
			}
		}
	}
	return "", false
}

func (l *SuffixLemmatizer) bases(language, fold string) []string {
	out := []string{fold}
	for _, enc := range l.enclitics[language] {
		if stem, ok := strings.CutSuffix(fold, enc); ok && utf8.RuneCountInString(stem) >= minStem {
			out = append(out, stem)
		}
	}
	return out
}

// ChainLemmatizer asks each fallback in turn; the first lemma wins.
type ChainLemmatizer []FallbackLemmatizer

func (c ChainLemmatizer) Lemmatize(ctx context.Context, language, surfaceFold string) (string, bool) {
	for _, l := range c {
		if ctx.Err() != nil {
			return "", false
		}
		if lemma, ok := l.Lemmatize(ctx, language, surfaceFold); ok {
			return lemma, true
		}
	}
	return "", false
}

// LexiconLemmatizer looks surfaces up in a fixed form-to-lemma table, such
// as one exported from an external morphology database.
type LexiconLemmatizer map[string]map[string]string

func (m LexiconLemmatizer) Lemmatize(ctx context.Context, language, surfaceFold string) (string, bool) {
	lemma, ok := m[language][surfaceFold]
	return lemma, ok && lemma != ""
}
