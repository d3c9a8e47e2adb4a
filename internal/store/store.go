// Package store is the append-only linguistic store. Writers stage records in
// a Txn scoped to one SourceDoc; Commit persists the change set and publishes
// a new immutable Snapshot, so readers never observe a partial document.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

type Config struct {
	// EmbeddingDim is fixed per deployment. Zero disables embeddings.
	EmbeddingDim int
}

// Persister durably writes one commit. It must be all-or-nothing.
type Persister interface {
	Persist(ctx context.Context, cs *ChangeSet) error
}

type Kind string

const (
	KindWork         Kind = "work"
	KindSegment      Kind = "segment"
	KindToken        Kind = "token"
	KindLexeme       Kind = "lexeme"
	KindGrammarTopic Kind = "grammar_topic"
)

type Tombstone struct {
	Kind     Kind
	ID       string
	Revision int
}

// ChangeSet is everything one commit adds. Records carry their stamped
// revision numbers; IndexRecords holds the index projection of every
// changed, still live, indexed entity.
type ChangeSet struct {
	Version      uint64
	Source       string
	Languages    []model.Language
	Sources      []*model.SourceDoc
	Works        []*model.TextWork
	Segments     []*model.TextSegment
	Tokens       []*model.Token
	Lexemes      []*model.Lexeme
	Topics       []*model.GrammarTopic
	Tombstones   []Tombstone
	IndexRecords []*model.IndexRecord
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Languages) == 0 && len(cs.Sources) == 0 && len(cs.Works) == 0 &&
		len(cs.Segments) == 0 && len(cs.Tokens) == 0 && len(cs.Lexemes) == 0 &&
		len(cs.Topics) == 0 && len(cs.Tombstones) == 0
}

type Counts struct {
	Inserted   int `json:"inserted"`
	Unchanged  int `json:"unchanged"`
	Superseded int `json:"superseded"`
	Tombstoned int `json:"tombstoned"`
}

type Report struct {
	Source  string `json:"source"`
	Version uint64 `json:"version"`
	Counts
}

type Store struct {
	cfg       Config
	persister Persister

	commitMu  sync.Mutex
	slugMu    sync.Mutex
	slugLocks map[string]*sync.Mutex

	cur atomic.Pointer[Snapshot]
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.EmbeddingDim < 0 {
		return nil, fmt.Errorf("embedding dim must not be negative")
	}
	s := &Store{
		cfg:       cfg,
		slugLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cur.Store(emptySnapshot())
	return s, nil
}

func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) Snapshot() *Snapshot {
	return s.cur.Load()
}

func (s *Store) Version() uint64 {
	return s.cur.Load().version
}

func (s *Store) Language(code string) (model.Language, bool) {
	return s.cur.Load().Language(code)
}

func (s *Store) GetSegment(id string) (*model.TextSegment, error) {
	seg, ok := s.cur.Load().Segment(id)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return seg, nil
}

func (s *Store) GetToken(id string) (*model.Token, error) {
	tok, ok := s.cur.Load().Token(id)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return tok, nil
}

func (s *Store) GetLexeme(id string) (*model.Lexeme, error) {
	lex, ok := s.cur.Load().Lexeme(id)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return lex, nil
}

func (s *Store) GetGrammarTopic(id string) (*model.GrammarTopic, error) {
	topic, ok := s.cur.Load().GrammarTopic(id)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return topic, nil
}

func (s *Store) ScanBy(q ScanQuery) ([]*model.TextSegment, error) {
	return s.cur.Load().ScanSegments(q)
}

// InsertSegment stages and commits a single segment of an existing work.
func (s *Store) InsertSegment(ctx context.Context, source, workID string, in model.SegmentInput) (*model.TextSegment, error) {
	txn, err := s.Begin(source)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	seg, err := txn.InsertSegment(workID, in)
	if err != nil {
		return nil, err
	}
	if _, err := txn.Commit(ctx); err != nil {
		return nil, err
	}
	stored, ok := s.cur.Load().Segment(seg.ID)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return stored, nil
}

// Restore replaces the whole store content with records loaded from durable
// storage. Records must arrive oldest revision first; tombstones hide an
// entity unless a later revision exists. Nothing is persisted.
func (s *Store) Restore(corpus *ChangeSet) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.restoreLocked(corpus)
}

// RestoreFrom is Restore for a corpus read while the store was at version.
// When a commit was published since, the store is left alone and false is
// returned so the caller can load again.
func (s *Store) RestoreFrom(corpus *ChangeSet, version uint64) (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.cur.Load().version != version {
		return false, nil
	}
	if err := s.restoreLocked(corpus); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) restoreLocked(corpus *ChangeSet) error {
	next := emptySnapshot().clone()
	next.version = s.cur.Load().version + 1
	for _, lang := range corpus.Languages {
		next.languages[lang.Code] = lang
	}
	for _, src := range corpus.Sources {
		next.sources.put(src.Slug, src)
	}
	for _, work := range corpus.Works {
		next.works.put(work.ID, work)
	}
	for _, seg := range corpus.Segments {
		if err := s.checkDim(seg.Embedding); err != nil {
			return fmt.Errorf("restore segment %s: %w", seg.ID, err)
		}
		next.segments.put(seg.ID, seg)
	}
	for _, tok := range corpus.Tokens {
		next.tokens.put(tok.ID, tok)
	}
	for _, lex := range corpus.Lexemes {
		next.lexemes.put(lex.ID, lex)
	}
	for _, topic := range corpus.Topics {
		if err := s.checkDim(topic.Embedding); err != nil {
			return fmt.Errorf("restore grammar topic %s: %w", topic.ID, err)
		}
		next.topics.put(topic.ID, topic)
	}
	for _, ts := range corpus.Tombstones {
		next.applyTombstone(ts)
	}
	next.derive()
	s.cur.Store(next)
	return nil
}

func (s *Store) checkDim(embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != s.cfg.EmbeddingDim {
		return fmt.Errorf("%w: %w: got %d, want %d", appErr.ErrValidation, appErr.ErrDimensionMismatch, len(embedding), s.cfg.EmbeddingDim)
	}
	return nil
}

func (s *Store) slugLock(slug string) *sync.Mutex {
	s.slugMu.Lock()
	defer s.slugMu.Unlock()
	lock, ok := s.slugLocks[slug]
	if !ok {
		lock = &sync.Mutex{}
		s.slugLocks[slug] = lock
	}
	return lock
}

// Begin opens the single write transaction allowed per source slug. It
// blocks while another writer holds the same slug.
func (s *Store) Begin(source string) (*Txn, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("source slug is required: %w", appErr.ErrValidation)
	}
	lock := s.slugLock(source)
	lock.Lock()
	return newTxn(s, source, lock.Unlock), nil
}
