package store

import (
	"fmt"
	"strings"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

// ApplyBundle stages a whole source bundle. The bundle's source slug must be
// the transaction's; Replace turns on ReplaceSource.
func (t *Txn) ApplyBundle(b *model.Bundle) error {
	if strings.TrimSpace(b.Source.Slug) != t.source {
		return fmt.Errorf("bundle source %q outside transaction %q: %w", b.Source.Slug, t.source, appErr.ErrValidation)
	}
	if b.Replace {
		t.ReplaceSource()
	}
	for _, lang := range b.Languages {
		if err := t.PutLanguage(lang); err != nil {
			return err
		}
	}
	if err := t.PutSource(b.Source); err != nil {
		return err
	}
	for wi, in := range b.Works {
		work, err := t.InsertWork(in)
		if err != nil {
			return fmt.Errorf("work #%d: %w", wi, err)
		}
		for _, segIn := range in.Segments {
			seg, err := t.InsertSegment(work.ID, segIn)
			if err != nil {
				return fmt.Errorf("work %q segment %d: %w", work.Title, segIn.Ordinal, err)
			}
			for i, tokIn := range segIn.Tokens {
				if _, err := t.InsertToken(seg.ID, i, tokIn); err != nil {
					return fmt.Errorf("segment %s token %d: %w", seg.ID, i, err)
				}
			}
		}
	}
	for _, in := range b.Lexemes {
		if _, err := t.InsertLexeme(in); err != nil {
			return fmt.Errorf("lexeme %q: %w", in.Lemma, err)
		}
	}
	for _, in := range b.GrammarTopics {
		if _, err := t.InsertGrammarTopic(in); err != nil {
			return fmt.Errorf("grammar topic %q: %w", in.Anchor, err)
		}
	}
	return nil
}
