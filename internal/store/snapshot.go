package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/textnorm"
)

// Snapshot is an immutable view of the store. Every read goes through one
// snapshot, so concurrent readers never lock.
type Snapshot struct {
	version uint64

	languages map[string]model.Language
	sources   table[model.SourceDoc]
	works     table[model.TextWork]
	segments  table[model.TextSegment]
	tokens    table[model.Token]
	lexemes   table[model.Lexeme]
	topics    table[model.GrammarTopic]

	workOrdinal     map[string]int
	worksByLang     map[string][]*model.TextWork
	segmentsByWork  map[string][]*model.TextSegment
	refs            map[string]map[string]int
	tokensBySegment map[string][]*model.Token
	tokensByFold    map[string]map[string][]*model.Token
	lexemesByFold   map[string]map[string][]*model.Lexeme
	records         map[string][]*model.IndexRecord
	recordByID      map[string]*model.IndexRecord
}

func emptySnapshot() *Snapshot {
	s := &Snapshot{
		languages: make(map[string]model.Language),
		sources:   newTable[model.SourceDoc](),
		works:     newTable[model.TextWork](),
		segments:  newTable[model.TextSegment](),
		tokens:    newTable[model.Token](),
		lexemes:   newTable[model.Lexeme](),
		topics:    newTable[model.GrammarTopic](),
	}
	s.derive()
	return s
}

func (s *Snapshot) clone() *Snapshot {
	languages := make(map[string]model.Language, len(s.languages))
	for k, v := range s.languages {
		languages[k] = v
	}
	return &Snapshot{
		version:   s.version,
		languages: languages,
		sources:   s.sources.clone(),
		works:     s.works.clone(),
		segments:  s.segments.clone(),
		tokens:    s.tokens.clone(),
		lexemes:   s.lexemes.clone(),
		topics:    s.topics.clone(),
	}
}

func (s *Snapshot) applyTombstone(ts Tombstone) {
	switch ts.Kind {
	case KindWork:
		s.works.killUpTo(ts.ID, ts.Revision)
	case KindSegment:
		s.segments.killUpTo(ts.ID, ts.Revision)
	case KindToken:
		s.tokens.killUpTo(ts.ID, ts.Revision)
	case KindLexeme:
		s.lexemes.killUpTo(ts.ID, ts.Revision)
	case KindGrammarTopic:
		s.topics.killUpTo(ts.ID, ts.Revision)
	}
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

func (s *Snapshot) Language(code string) (model.Language, bool) {
	lang, ok := s.languages[code]
	return lang, ok
}

func (s *Snapshot) Languages() []model.Language {
	out := make([]model.Language, 0, len(s.languages))
	for _, lang := range s.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Snapshot) Source(slug string) (*model.SourceDoc, bool) {
	return s.sources.get(slug)
}

func (s *Snapshot) Work(id string) (*model.TextWork, bool) {
	return s.works.get(id)
}

// Works lists the works of a language in work-ordinal order.
func (s *Snapshot) Works(language string) []*model.TextWork {
	return s.worksByLang[language]
}

func (s *Snapshot) WorkOrdinal(id string) int {
	return s.workOrdinal[id]
}

func (s *Snapshot) Segment(id string) (*model.TextSegment, bool) {
	return s.segments.get(id)
}

// SegmentHistory returns every stored revision of a segment, oldest first,
// including revisions hidden by a tombstone.
func (s *Snapshot) SegmentHistory(id string) []*model.TextSegment {
	return s.segments.history(id)
}

func (s *Snapshot) Token(id string) (*model.Token, bool) {
	return s.tokens.get(id)
}

func (s *Snapshot) TokensOfSegment(segmentID string) []*model.Token {
	return s.tokensBySegment[segmentID]
}

// TokensBySurfaceFold returns curated tokens of a language whose folded
// surface equals fold.
func (s *Snapshot) TokensBySurfaceFold(language, fold string) []*model.Token {
	return s.tokensByFold[language][fold]
}

func (s *Snapshot) Lexeme(id string) (*model.Lexeme, bool) {
	return s.lexemes.get(id)
}

// LexemesByFold is the case and accent insensitive headword lookup.
func (s *Snapshot) LexemesByFold(language, lemmaFold string) []*model.Lexeme {
	return s.lexemesByFold[language][lemmaFold]
}

func (s *Snapshot) GrammarTopic(id string) (*model.GrammarTopic, bool) {
	return s.topics.get(id)
}

// IndexRecords returns the indexed units of a language sorted by SortKey.
func (s *Snapshot) IndexRecords(language string) []*model.IndexRecord {
	return s.records[language]
}

func (s *Snapshot) IndexRecord(entityID string) (*model.IndexRecord, bool) {
	rec, ok := s.recordByID[entityID]
	return rec, ok
}

// ResolveRef maps an external citation of a work onto its segment ordinal.
func (s *Snapshot) ResolveRef(workID, ref string) (int, bool) {
	ordinal, ok := s.refs[workID][strings.TrimSpace(ref)]
	return ordinal, ok
}

type ScanQuery struct {
	Language string
	WorkID   string

	// From and To bound the ordinal range, inclusive. FromRef and ToRef are
	// resolved through the work's ref scheme and require WorkID.
	From    *int
	To      *int
	FromRef string
	ToRef   string
	Limit   int
}

func (s *Snapshot) ScanSegments(q ScanQuery) ([]*model.TextSegment, error) {
	if _, ok := s.languages[q.Language]; !ok {
		return nil, fmt.Errorf("scan %q: %w", q.Language, appErr.ErrUnknownLanguage)
	}
	from, to := q.From, q.To
	if q.FromRef != "" || q.ToRef != "" {
		if q.WorkID == "" {
			return nil, fmt.Errorf("ref range requires a work: %w", appErr.ErrInvalid)
		}
		if q.FromRef != "" {
			ordinal, ok := s.ResolveRef(q.WorkID, q.FromRef)
			if !ok {
				return nil, fmt.Errorf("ref %q: %w", q.FromRef, appErr.ErrNotFound)
			}
			from = &ordinal
		}
		if q.ToRef != "" {
			ordinal, ok := s.ResolveRef(q.WorkID, q.ToRef)
			if !ok {
				return nil, fmt.Errorf("ref %q: %w", q.ToRef, appErr.ErrNotFound)
			}
			to = &ordinal
		}
	}
	var works []*model.TextWork
	if q.WorkID != "" {
		work, ok := s.works.get(q.WorkID)
		if !ok || work.Language != q.Language {
			return nil, fmt.Errorf("work %s: %w", q.WorkID, appErr.ErrNotFound)
		}
		works = []*model.TextWork{work}
	} else {
		works = s.worksByLang[q.Language]
	}
	var out []*model.TextSegment
	for _, work := range works {
		segs := s.segmentsByWork[work.ID]
		start := 0
		if from != nil {
			start = sort.Search(len(segs), func(i int) bool { return segs[i].Ordinal >= *from })
		}
		for _, seg := range segs[start:] {
			if to != nil && seg.Ordinal > *to {
				break
			}
			out = append(out, seg)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Snapshot) derive() {
	s.workOrdinal = make(map[string]int)
	s.worksByLang = make(map[string][]*model.TextWork)
	s.segmentsByWork = make(map[string][]*model.TextSegment)
	s.refs = make(map[string]map[string]int)
	s.tokensBySegment = make(map[string][]*model.Token)
	s.tokensByFold = make(map[string]map[string][]*model.Token)
	s.lexemesByFold = make(map[string]map[string][]*model.Lexeme)
	s.records = make(map[string][]*model.IndexRecord)
	s.recordByID = make(map[string]*model.IndexRecord)

	works := make([]*model.TextWork, 0, s.works.len())
	for _, id := range s.works.alive() {
		work, _ := s.works.get(id)
		works = append(works, work)
	}
	sort.Slice(works, func(i, j int) bool {
		a, b := works[i], works[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	for i, work := range works {
		s.workOrdinal[work.ID] = i + 1
		s.worksByLang[work.Language] = append(s.worksByLang[work.Language], work)
	}

	segLang := make(map[string]string)
	for _, id := range s.segments.alive() {
		seg, _ := s.segments.get(id)
		work, ok := s.works.get(seg.WorkID)
		if !ok {
			continue
		}
		segLang[seg.ID] = work.Language
		s.segmentsByWork[work.ID] = append(s.segmentsByWork[work.ID], seg)
		if seg.Ref != "" {
			if s.refs[work.ID] == nil {
				s.refs[work.ID] = make(map[string]int)
			}
			s.refs[work.ID][seg.Ref] = seg.Ordinal
		}
		s.addRecord(&model.IndexRecord{
			EntityType: model.EntitySegment,
			EntityID:   seg.ID,
			Language:   work.Language,
			FoldedText: seg.TextFold,
			Embedding:  seg.Embedding,
			Label:      seg.TextNFC,
			Key: model.SortKey{
				WorkOrdinal:    s.workOrdinal[work.ID],
				SegmentOrdinal: seg.Ordinal,
				WorkSource:     work.Source,
				WorkTitle:      work.Title,
				WorkID:         work.ID,
				EntityID:       seg.ID,
			},
		})
	}
	for _, segs := range s.segmentsByWork {
		sort.Slice(segs, func(i, j int) bool { return segs[i].Ordinal < segs[j].Ordinal })
	}

	for _, id := range s.tokens.alive() {
		tok, _ := s.tokens.get(id)
		lang, ok := segLang[tok.SegmentID]
		if !ok {
			continue
		}
		s.tokensBySegment[tok.SegmentID] = append(s.tokensBySegment[tok.SegmentID], tok)
		if s.tokensByFold[lang] == nil {
			s.tokensByFold[lang] = make(map[string][]*model.Token)
		}
		s.tokensByFold[lang][tok.SurfaceFold] = append(s.tokensByFold[lang][tok.SurfaceFold], tok)
	}
	for _, toks := range s.tokensBySegment {
		sort.Slice(toks, func(i, j int) bool { return toks[i].Index < toks[j].Index })
	}

	for _, id := range s.lexemes.alive() {
		lex, _ := s.lexemes.get(id)
		if s.lexemesByFold[lex.Language] == nil {
			s.lexemesByFold[lex.Language] = make(map[string][]*model.Lexeme)
		}
		s.lexemesByFold[lex.Language][lex.LemmaFold] = append(s.lexemesByFold[lex.Language][lex.LemmaFold], lex)
		s.addRecord(&model.IndexRecord{
			EntityType: model.EntityLexeme,
			EntityID:   lex.ID,
			Language:   lex.Language,
			FoldedText: lex.LemmaFold,
			Label:      lex.Lemma,
			Key:        model.SortKey{Lemma: lex.Lemma, EntityID: lex.ID},
		})
	}

	for _, id := range s.topics.alive() {
		topic, _ := s.topics.get(id)
		s.addRecord(&model.IndexRecord{
			EntityType: model.EntityGrammarTopic,
			EntityID:   topic.ID,
			Language:   topic.Language,
			FoldedText: strings.TrimSpace(textnorm.MustFold(topic.Title) + " " + topic.BodyFold),
			Embedding:  topic.Embedding,
			Label:      topic.Anchor + " " + topic.Title,
			Key:        model.SortKey{Anchor: topic.Anchor, EntityID: topic.ID},
		})
	}

	for _, recs := range s.records {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Key.Compare(recs[j].Key) < 0 })
	}
}

func (s *Snapshot) addRecord(rec *model.IndexRecord) {
	s.records[rec.Language] = append(s.records[rec.Language], rec)
	s.recordByID[rec.EntityID] = rec
}
