package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/textnorm"
)

// Txn stages the records of one SourceDoc. Each Insert validates its record
// on its own: a rejected record is never staged, and nothing staged becomes
// visible before Commit.
type Txn struct {
	store   *Store
	source  string
	release func()
	closed  bool
	replace bool

	languages map[string]model.Language
	doc       *model.SourceDoc
	works     map[string]*model.TextWork
	segments  map[string]*model.TextSegment
	tokens    map[string]*model.Token
	lexemes   map[string]*model.Lexeme
	topics    map[string]*model.GrammarTopic
}

func newTxn(s *Store, source string, release func()) *Txn {
	return &Txn{
		store:     s,
		source:    source,
		release:   release,
		languages: make(map[string]model.Language),
		works:     make(map[string]*model.TextWork),
		segments:  make(map[string]*model.TextSegment),
		tokens:    make(map[string]*model.Token),
		lexemes:   make(map[string]*model.Lexeme),
		topics:    make(map[string]*model.GrammarTopic),
	}
}

func (t *Txn) Source() string {
	return t.source
}

// ReplaceSource makes Commit tombstone every entity of the source that was
// not staged in this transaction.
func (t *Txn) ReplaceSource() {
	t.replace = true
}

func (t *Txn) PutLanguage(lang model.Language) error {
	lang.Code = strings.TrimSpace(lang.Code)
	lang.Name = strings.TrimSpace(lang.Name)
	if lang.Code == "" {
		return fmt.Errorf("language code is required: %w", appErr.ErrValidation)
	}
	if existing, ok := t.store.Snapshot().Language(lang.Code); ok {
		if existing.Name != lang.Name {
			return fmt.Errorf("language %s is immutable: %w", lang.Code, appErr.ErrValidation)
		}
		return nil
	}
	t.languages[lang.Code] = lang
	return nil
}

func (t *Txn) PutSource(doc model.SourceDoc) error {
	if strings.TrimSpace(doc.Slug) != t.source {
		return fmt.Errorf("source %q outside transaction %q: %w", doc.Slug, t.source, appErr.ErrValidation)
	}
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("source title is required: %w", appErr.ErrValidation)
	}
	rec := &model.SourceDoc{
		Slug:    t.source,
		Title:   strings.TrimSpace(doc.Title),
		License: strings.TrimSpace(doc.License),
	}
	if len(doc.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			rec.Metadata[k] = v
		}
	}
	t.doc = rec
	return nil
}

func (t *Txn) InsertWork(in model.WorkInput) (*model.TextWork, error) {
	lang := strings.TrimSpace(in.Language)
	if !t.knownLanguage(lang) {
		return nil, fmt.Errorf("work language %q: %w: %w", lang, appErr.ErrValidation, appErr.ErrUnknownLanguage)
	}
	title, err := textnorm.NFC(strings.TrimSpace(in.Title))
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, fmt.Errorf("work title is required: %w", appErr.ErrValidation)
	}
	author, err := textnorm.NFC(strings.TrimSpace(in.Author))
	if err != nil {
		return nil, err
	}
	rec := &model.TextWork{
		ID:        WorkID(t.source, lang, title),
		Language:  lang,
		Source:    t.source,
		Author:    author,
		Title:     title,
		RefScheme: strings.TrimSpace(in.RefScheme),
	}
	return stage(t.works, rec.ID, rec, workHash)
}

func (t *Txn) InsertSegment(workID string, in model.SegmentInput) (*model.TextSegment, error) {
	work, ok := t.lookupWork(workID)
	if !ok {
		return nil, fmt.Errorf("segment work %s: %w", workID, appErr.ErrValidation)
	}
	if work.Source != t.source {
		return nil, fmt.Errorf("work %s belongs to source %s: %w", workID, work.Source, appErr.ErrValidation)
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("segment text_raw is required: %w", appErr.ErrValidation)
	}
	if in.Ordinal < 0 {
		return nil, fmt.Errorf("segment ordinal %d: %w", in.Ordinal, appErr.ErrValidation)
	}
	if err := t.store.checkDim(in.Embedding); err != nil {
		return nil, err
	}
	nfc, folded, err := textnorm.Normalize(in.Text)
	if err != nil {
		return nil, err
	}
	rec := &model.TextSegment{
		ID:        SegmentID(work.ID, in.Ordinal),
		WorkID:    work.ID,
		Ordinal:   in.Ordinal,
		Ref:       strings.TrimSpace(in.Ref),
		TextRaw:   in.Text,
		TextNFC:   nfc,
		TextFold:  folded,
		Embedding: slices.Clone(in.Embedding),
	}
	rec.ContentHash = segmentHash(rec)
	return stage(t.segments, rec.ID, rec, func(s *model.TextSegment) string { return s.ContentHash })
}

func (t *Txn) InsertToken(segmentID string, index int, in model.TokenInput) (*model.Token, error) {
	seg, ok := t.lookupSegment(segmentID)
	if !ok {
		return nil, fmt.Errorf("token segment %s: %w", segmentID, appErr.ErrValidation)
	}
	if work, ok := t.lookupWork(seg.WorkID); !ok || work.Source != t.source {
		return nil, fmt.Errorf("segment %s outside source %s: %w", segmentID, t.source, appErr.ErrValidation)
	}
	if index < 0 {
		return nil, fmt.Errorf("token index %d: %w", index, appErr.ErrValidation)
	}
	if strings.TrimSpace(in.Surface) == "" {
		return nil, fmt.Errorf("token surface is required: %w", appErr.ErrValidation)
	}
	nfc, folded, err := textnorm.Normalize(in.Surface)
	if err != nil {
		return nil, err
	}
	rec := &model.Token{
		ID:          TokenID(seg.ID, index),
		SegmentID:   seg.ID,
		Index:       index,
		Surface:     in.Surface,
		SurfaceNFC:  nfc,
		SurfaceFold: folded,
		MorphTag:    strings.TrimSpace(in.MorphTag),
	}
	if lemma := strings.TrimSpace(in.Lemma); lemma != "" {
		rec.Lemma, rec.LemmaFold, err = textnorm.Normalize(lemma)
		if err != nil {
			return nil, err
		}
	}
	rec.ContentHash = tokenHash(rec)
	return stage(t.tokens, rec.ID, rec, func(tok *model.Token) string { return tok.ContentHash })
}

func (t *Txn) InsertLexeme(in model.LexemeInput) (*model.Lexeme, error) {
	lang := strings.TrimSpace(in.Language)
	if !t.knownLanguage(lang) {
		return nil, fmt.Errorf("lexeme language %q: %w: %w", lang, appErr.ErrValidation, appErr.ErrUnknownLanguage)
	}
	if strings.TrimSpace(in.Lemma) == "" {
		return nil, fmt.Errorf("lexeme lemma is required: %w", appErr.ErrValidation)
	}
	lemma, folded, err := textnorm.Normalize(strings.TrimSpace(in.Lemma))
	if err != nil {
		return nil, err
	}
	rec := &model.Lexeme{
		ID:           LexemeID(lang, lemma),
		Language:     lang,
		Source:       t.source,
		Lemma:        lemma,
		LemmaFold:    folded,
		PartOfSpeech: strings.TrimSpace(in.PartOfSpeech),
		Senses:       slices.Clone(in.Senses),
	}
	rec.ContentHash = lexemeHash(rec)
	return stage(t.lexemes, rec.ID, rec, func(l *model.Lexeme) string { return l.ContentHash })
}

func (t *Txn) InsertGrammarTopic(in model.GrammarTopicInput) (*model.GrammarTopic, error) {
	lang := strings.TrimSpace(in.Language)
	if !t.knownLanguage(lang) {
		return nil, fmt.Errorf("grammar topic language %q: %w: %w", lang, appErr.ErrValidation, appErr.ErrUnknownLanguage)
	}
	anchor := strings.TrimSpace(in.Anchor)
	if anchor == "" || strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("grammar topic anchor, title and body are required: %w", appErr.ErrValidation)
	}
	if err := t.store.checkDim(in.Embedding); err != nil {
		return nil, err
	}
	title, err := textnorm.NFC(strings.TrimSpace(in.Title))
	if err != nil {
		return nil, err
	}
	body, err := textnorm.NFC(in.Body)
	if err != nil {
		return nil, err
	}
	bodyFold, err := textnorm.Fold(textnorm.PlainText(body))
	if err != nil {
		return nil, err
	}
	rec := &model.GrammarTopic{
		ID:        GrammarTopicID(t.source, anchor),
		Source:    t.source,
		Language:  lang,
		Anchor:    anchor,
		Title:     title,
		Body:      body,
		BodyFold:  bodyFold,
		Embedding: slices.Clone(in.Embedding),
	}
	rec.ContentHash = topicHash(rec)
	return stage(t.topics, rec.ID, rec, func(g *model.GrammarTopic) string { return g.ContentHash })
}

// Commit persists the staged records and publishes them in one step. The
// transaction is closed afterwards whatever the outcome.
func (t *Txn) Commit(ctx context.Context) (*Report, error) {
	if t.closed {
		return nil, fmt.Errorf("transaction closed: %w", appErr.ErrInvalid)
	}
	defer t.Rollback()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, err)
	}

	s := t.store
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	cur := s.cur.Load()
	report := &Report{Source: t.source, Version: cur.version}
	cs := &ChangeSet{Source: t.source}

	for _, code := range sortedKeys(t.languages) {
		if _, ok := cur.languages[code]; ok {
			report.Unchanged++
			continue
		}
		cs.Languages = append(cs.Languages, t.languages[code])
		report.Inserted++
	}
	if t.doc != nil {
		staged := map[string]*model.SourceDoc{t.doc.Slug: t.doc}
		cs.Sources = diffTable(cur.sources, staged, sourceHash, func(d *model.SourceDoc, rev, _ int) {
			d.Revision = rev
		}, &report.Counts)
	}
	cs.Works = diffTable(cur.works, t.works, workHash, func(w *model.TextWork, rev, _ int) {
		w.Revision = rev
	}, &report.Counts)
	cs.Segments = diffTable(cur.segments, t.segments, func(s *model.TextSegment) string { return s.ContentHash },
		func(s *model.TextSegment, rev, sup int) {
			s.Revision, s.Supersedes = rev, sup
		}, &report.Counts)
	cs.Tokens = diffTable(cur.tokens, t.tokens, func(tok *model.Token) string { return tok.ContentHash },
		func(tok *model.Token, rev, sup int) {
			tok.Revision, tok.Supersedes = rev, sup
		}, &report.Counts)
	cs.Lexemes = diffTable(cur.lexemes, t.lexemes, func(l *model.Lexeme) string { return l.ContentHash },
		func(l *model.Lexeme, rev, sup int) {
			l.Revision, l.Supersedes = rev, sup
		}, &report.Counts)
	cs.Topics = diffTable(cur.topics, t.topics, func(g *model.GrammarTopic) string { return g.ContentHash },
		func(g *model.GrammarTopic, rev, sup int) {
			g.Revision, g.Supersedes = rev, sup
		}, &report.Counts)

	t.collectTombstones(cur, cs)
	report.Tombstoned = len(cs.Tombstones)
	if cs.Empty() {
		return report, nil
	}

	next := cur.clone()
	next.version = cur.version + 1
	for _, lang := range cs.Languages {
		next.languages[lang.Code] = lang
	}
	for _, doc := range cs.Sources {
		next.sources.put(doc.Slug, doc)
	}
	for _, work := range cs.Works {
		next.works.put(work.ID, work)
	}
	for _, seg := range cs.Segments {
		next.segments.put(seg.ID, seg)
	}
	for _, tok := range cs.Tokens {
		next.tokens.put(tok.ID, tok)
	}
	for _, lex := range cs.Lexemes {
		next.lexemes.put(lex.ID, lex)
	}
	for _, topic := range cs.Topics {
		next.topics.put(topic.ID, topic)
	}
	for _, ts := range cs.Tombstones {
		next.applyTombstone(ts)
	}
	next.derive()

	cs.Version = next.version
	cs.IndexRecords = changedRecords(next, cs)
	if s.persister != nil {
		if err := s.persister.Persist(ctx, cs); err != nil {
			return nil, fmt.Errorf("persist commit of %s: %w", t.source, err)
		}
	}
	s.cur.Store(next)
	report.Version = next.version
	return report, nil
}

// Rollback discards staged records and releases the source lock. It is a
// no-op after Commit.
func (t *Txn) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.release()
}

func (t *Txn) knownLanguage(code string) bool {
	if code == "" {
		return false
	}
	if _, ok := t.languages[code]; ok {
		return true
	}
	_, ok := t.store.Snapshot().Language(code)
	return ok
}

func (t *Txn) lookupWork(id string) (*model.TextWork, bool) {
	if w, ok := t.works[id]; ok {
		return w, true
	}
	return t.store.Snapshot().Work(id)
}

func (t *Txn) lookupSegment(id string) (*model.TextSegment, bool) {
	if s, ok := t.segments[id]; ok {
		return s, true
	}
	return t.store.Snapshot().Segment(id)
}

func (t *Txn) collectTombstones(cur *Snapshot, cs *ChangeSet) {
	seen := make(map[string]bool)
	add := func(kind Kind, id string, revision int) {
		if seen[id] {
			return
		}
		seen[id] = true
		cs.Tombstones = append(cs.Tombstones, Tombstone{Kind: kind, ID: id, Revision: revision})
	}

	// tokens of a revised segment describe the old text
	for _, seg := range cs.Segments {
		if seg.Supersedes == 0 {
			continue
		}
		for _, tok := range cur.tokensBySegment[seg.ID] {
			if _, ok := t.tokens[tok.ID]; !ok {
				add(KindToken, tok.ID, tok.Revision)
			}
		}
	}
	if !t.replace {
		return
	}

	workSource := func(workID string) string {
		if l, ok := cur.works.rows[workID]; ok {
			return l.head().Source
		}
		return ""
	}
	segSource := func(segID string) string {
		if l, ok := cur.segments.rows[segID]; ok {
			return workSource(l.head().WorkID)
		}
		return ""
	}
	for _, id := range cur.works.alive() {
		w, _ := cur.works.get(id)
		if _, ok := t.works[id]; !ok && w.Source == t.source {
			add(KindWork, id, w.Revision)
		}
	}
	for _, id := range cur.segments.alive() {
		seg, _ := cur.segments.get(id)
		if _, ok := t.segments[id]; !ok && workSource(seg.WorkID) == t.source {
			add(KindSegment, id, seg.Revision)
		}
	}
	for _, id := range cur.tokens.alive() {
		tok, _ := cur.tokens.get(id)
		if _, ok := t.tokens[id]; !ok && segSource(tok.SegmentID) == t.source {
			add(KindToken, id, tok.Revision)
		}
	}
	for _, id := range cur.lexemes.alive() {
		lex, _ := cur.lexemes.get(id)
		if _, ok := t.lexemes[id]; !ok && lex.Source == t.source {
			add(KindLexeme, id, lex.Revision)
		}
	}
	for _, id := range cur.topics.alive() {
		topic, _ := cur.topics.get(id)
		if _, ok := t.topics[id]; !ok && topic.Source == t.source {
			add(KindGrammarTopic, id, topic.Revision)
		}
	}
}

func changedRecords(next *Snapshot, cs *ChangeSet) []*model.IndexRecord {
	var out []*model.IndexRecord
	addID := func(id string) {
		if rec, ok := next.recordByID[id]; ok {
			out = append(out, rec)
		}
	}
	for _, seg := range cs.Segments {
		addID(seg.ID)
	}
	for _, lex := range cs.Lexemes {
		addID(lex.ID)
	}
	for _, topic := range cs.Topics {
		addID(topic.ID)
	}
	return out
}

func stage[T any](staged map[string]*T, id string, rec *T, hashOf func(*T) string) (*T, error) {
	if prev, ok := staged[id]; ok {
		if hashOf(prev) == hashOf(rec) {
			return prev, nil
		}
		return nil, fmt.Errorf("%s staged twice with different content: %w", id, appErr.ErrValidation)
	}
	staged[id] = rec
	return rec, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
