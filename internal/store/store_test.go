package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lectio/internal/model"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

type recordingPersister struct {
	mu   sync.Mutex
	sets []*ChangeSet
	err  error
}

func (p *recordingPersister) Persist(ctx context.Context, cs *ChangeSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sets = append(p.sets, cs)
	return nil
}

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := New(Config{EmbeddingDim: dim})
	require.NoError(t, err)
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	require.NoError(t, txn.PutLanguage(model.Language{Code: "grc", Name: "Ancient Greek"}))
	require.NoError(t, txn.PutLanguage(model.Language{Code: "lat", Name: "Latin"}))
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)
	return s
}

func seedIliad(t *testing.T, s *Store) *model.TextWork {
	t.Helper()
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	work, err := txn.InsertWork(model.WorkInput{Language: "grc", Author: "Homer", Title: "Iliad", RefScheme: "book.line"})
	require.NoError(t, err)
	lines := []string{"μῆνιν ἄειδε θεὰ", "Πηληϊάδεω Ἀχιλῆος", "οὐλομένην"}
	for i, line := range lines {
		_, err := txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: i + 1, Ref: "1." + string(rune('1'+i)), Text: line})
		require.NoError(t, err)
	}
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)
	return work
}

func TestInsertSegment_IdempotentReinsert(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)
	before := s.Version()

	seg, err := s.InsertSegment(context.Background(), "perseus", work.ID, model.SegmentInput{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε θεὰ"})
	require.NoError(t, err)
	require.Equal(t, SegmentID(work.ID, 1), seg.ID)
	require.Equal(t, 1, seg.Revision)
	require.Equal(t, before, s.Version())
	require.Len(t, s.Snapshot().SegmentHistory(seg.ID), 1)
}

func TestInsertSegment_ChangedTextSupersedes(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)

	seg, err := s.InsertSegment(context.Background(), "perseus", work.ID, model.SegmentInput{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε θεά"})
	require.NoError(t, err)
	require.Equal(t, 2, seg.Revision)
	require.Equal(t, 1, seg.Supersedes)
	history := s.Snapshot().SegmentHistory(seg.ID)
	require.Len(t, history, 2)
	require.Equal(t, "μῆνιν ἄειδε θεὰ", history[0].TextNFC)
	require.Equal(t, "μηνιν αειδε θεα", seg.TextFold)
}

func TestInsertSegment_Validation(t *testing.T) {
	s := newTestStore(t, 4)
	work := seedIliad(t, s)
	ctx := context.Background()

	_, err := s.InsertSegment(ctx, "perseus", work.ID, model.SegmentInput{Ordinal: 9, Text: "   "})
	require.ErrorIs(t, err, appErr.ErrValidation)

	_, err = s.InsertSegment(ctx, "perseus", work.ID, model.SegmentInput{Ordinal: -1, Text: "λόγος"})
	require.ErrorIs(t, err, appErr.ErrValidation)

	_, err = s.InsertSegment(ctx, "perseus", "missing", model.SegmentInput{Ordinal: 9, Text: "λόγος"})
	require.ErrorIs(t, err, appErr.ErrValidation)

	_, err = s.InsertSegment(ctx, "perseus", work.ID, model.SegmentInput{Ordinal: 9, Text: "λόγος", Embedding: []float32{1, 2}})
	require.ErrorIs(t, err, appErr.ErrValidation)
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

	_, err = s.InsertSegment(ctx, "perseus", work.ID, model.SegmentInput{Ordinal: 9, Text: "\xff\xfe"})
	require.ErrorIs(t, err, appErr.ErrEncoding)

	_, err = s.InsertSegment(ctx, "other", work.ID, model.SegmentInput{Ordinal: 9, Text: "λόγος"})
	require.ErrorIs(t, err, appErr.ErrValidation)

	_, ok := s.Snapshot().Segment(SegmentID(work.ID, 9))
	require.False(t, ok)
}

func TestTxn_UnknownLanguageRejected(t *testing.T) {
	s := newTestStore(t, 0)
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	defer txn.Rollback()

	_, err = txn.InsertWork(model.WorkInput{Language: "xx", Title: "Nothing"})
	require.ErrorIs(t, err, appErr.ErrUnknownLanguage)
	_, err = txn.InsertLexeme(model.LexemeInput{Language: "xx", Lemma: "λόγος"})
	require.ErrorIs(t, err, appErr.ErrValidation)
}

func TestTxn_StagedRecordsInvisibleUntilCommit(t *testing.T) {
	s := newTestStore(t, 0)
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	work, err := txn.InsertWork(model.WorkInput{Language: "grc", Title: "Odyssey"})
	require.NoError(t, err)
	seg, err := txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 1, Text: "ἄνδρα μοι ἔννεπε"})
	require.NoError(t, err)

	_, ok := s.Snapshot().Segment(seg.ID)
	require.False(t, ok)

	report, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Inserted)
	_, ok = s.Snapshot().Segment(seg.ID)
	require.True(t, ok)

	_, err = txn.Commit(context.Background())
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestTxn_ConflictingStageRejected(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)
	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	defer txn.Rollback()

	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 7, Text: "ἄλγε᾽ ἔθηκε"})
	require.NoError(t, err)
	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 7, Text: "ἄλγε᾽ ἔθηκε"})
	require.NoError(t, err)
	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 7, Text: "πολλὰς"})
	require.ErrorIs(t, err, appErr.ErrValidation)
}

func TestScanBy_OrdinalAndRefRange(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)

	from, to := 2, 3
	segs, err := s.ScanBy(ScanQuery{Language: "grc", WorkID: work.ID, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, 2, segs[0].Ordinal)
	require.Equal(t, 3, segs[1].Ordinal)

	segs, err = s.ScanBy(ScanQuery{Language: "grc", WorkID: work.ID, FromRef: "1.1", ToRef: "1.2"})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, "1.1", segs[0].Ref)

	segs, err = s.ScanBy(ScanQuery{Language: "grc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	segs, err = s.ScanBy(ScanQuery{Language: "lat"})
	require.NoError(t, err)
	require.Empty(t, segs)

	_, err = s.ScanBy(ScanQuery{Language: "xx"})
	require.ErrorIs(t, err, appErr.ErrUnknownLanguage)

	_, err = s.ScanBy(ScanQuery{Language: "grc", FromRef: "1.1"})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = s.ScanBy(ScanQuery{Language: "grc", WorkID: work.ID, FromRef: "9.9"})
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestCommit_ReplaceSourceTombstonesMissing(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)

	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	txn.ReplaceSource()
	_, err = txn.InsertWork(model.WorkInput{Language: "grc", Author: "Homer", Title: "Iliad", RefScheme: "book.line"})
	require.NoError(t, err)
	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε θεὰ"})
	require.NoError(t, err)
	report, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Tombstoned)
	require.Equal(t, 2, report.Unchanged)

	snap := s.Snapshot()
	_, ok := snap.Segment(SegmentID(work.ID, 2))
	require.False(t, ok)
	require.Len(t, snap.SegmentHistory(SegmentID(work.ID, 2)), 1)
	require.Len(t, snap.IndexRecords("grc"), 1)
}

func TestCommit_SupersededSegmentDropsStaleTokens(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)
	segID := SegmentID(work.ID, 1)

	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	_, err = txn.InsertToken(segID, 0, model.TokenInput{Surface: "μῆνιν", Lemma: "μῆνις", MorphTag: "n-s---fa-"})
	require.NoError(t, err)
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Snapshot().TokensBySurfaceFold("grc", "μηνιν"), 1)

	_, err = s.InsertSegment(context.Background(), "perseus", work.ID, model.SegmentInput{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε, θεά"})
	require.NoError(t, err)
	require.Empty(t, s.Snapshot().TokensOfSegment(segID))
	_, err = s.GetToken(TokenID(segID, 0))
	require.True(t, appErr.IsNotFound(err))
}

func TestCommit_PersisterFailureLeavesSnapshot(t *testing.T) {
	p := &recordingPersister{}
	s, err := New(Config{}, WithPersister(p))
	require.NoError(t, err)

	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	require.NoError(t, txn.PutLanguage(model.Language{Code: "grc", Name: "Ancient Greek"}))
	_, err = txn.InsertLexeme(model.LexemeInput{Language: "grc", Lemma: "λόγος", PartOfSpeech: "noun", Senses: []model.Sense{{Gloss: "word"}}})
	require.NoError(t, err)
	report, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), report.Version)
	require.Len(t, p.sets, 1)
	require.Len(t, p.sets[0].IndexRecords, 1)
	require.Equal(t, model.EntityLexeme, p.sets[0].IndexRecords[0].EntityType)

	p.err = errors.New("disk full")
	txn, err = s.Begin("perseus")
	require.NoError(t, err)
	_, err = txn.InsertLexeme(model.LexemeInput{Language: "grc", Lemma: "λέγω", PartOfSpeech: "verb"})
	require.NoError(t, err)
	_, err = txn.Commit(context.Background())
	require.Error(t, err)
	require.Equal(t, uint64(1), s.Version())
	require.Empty(t, s.Snapshot().LexemesByFold("grc", "λεγω"))
}

func TestGrammarTopic_IndexedWithPlainBody(t *testing.T) {
	s := newTestStore(t, 2)
	txn, err := s.Begin("smyth")
	require.NoError(t, err)
	topic, err := txn.InsertGrammarTopic(model.GrammarTopicInput{
		Language:  "grc",
		Anchor:    "§431",
		Title:     "Aorist",
		Body:      "The **first aorist** adds `-σα`.",
		Embedding: []float32{0.5, 0.5},
	})
	require.NoError(t, err)
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)

	rec, ok := s.Snapshot().IndexRecord(topic.ID)
	require.True(t, ok)
	require.Equal(t, "aorist the first aorist adds -σα.", rec.FoldedText)
	require.Equal(t, "§431", rec.Key.Anchor)
}

func TestSnapshot_ConcurrentReadersSeeWholeCommits(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				segs, err := snap.ScanSegments(ScanQuery{Language: "grc", WorkID: work.ID})
				if err != nil {
					t.Error(err)
					return
				}
				if n := len(segs); n != 3 && n != 5 {
					t.Errorf("partial commit observed: %d segments", n)
					return
				}
			}
		}()
	}

	txn, err := s.Begin("perseus")
	require.NoError(t, err)
	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 4, Text: "ἣ μυρί᾽"})
	require.NoError(t, err)
	_, err = txn.InsertSegment(work.ID, model.SegmentInput{Ordinal: 5, Text: "Ἀχαιοῖς ἄλγε᾽ ἔθηκε"})
	require.NoError(t, err)
	_, err = txn.Commit(context.Background())
	require.NoError(t, err)

	close(stop)
	wg.Wait()
}

func TestRestore_ReplaysHistoryAndTombstones(t *testing.T) {
	s := newTestStore(t, 0)
	work := seedIliad(t, s)
	segID := SegmentID(work.ID, 1)
	_, err := s.InsertSegment(context.Background(), "perseus", work.ID, model.SegmentInput{Ordinal: 1, Ref: "1.1", Text: "μῆνιν ἄειδε, θεά"})
	require.NoError(t, err)

	snap := s.Snapshot()
	corpus := &ChangeSet{Languages: snap.Languages()}
	w, _ := snap.Work(work.ID)
	corpus.Works = append(corpus.Works, w)
	corpus.Segments = append(corpus.Segments, snap.SegmentHistory(segID)...)
	seg2, _ := snap.Segment(SegmentID(work.ID, 2))
	corpus.Segments = append(corpus.Segments, seg2)
	corpus.Tombstones = []Tombstone{{Kind: KindSegment, ID: seg2.ID, Revision: 1}}

	fresh, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(corpus))

	got, err := fresh.GetSegment(segID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Revision)
	require.Len(t, fresh.Snapshot().SegmentHistory(segID), 2)
	_, err = fresh.GetSegment(seg2.ID)
	require.True(t, appErr.IsNotFound(err))
	require.Equal(t, uint64(1), fresh.Version())
}

func TestRestoreFrom_SkipsWhenVersionMoved(t *testing.T) {
	s := newTestStore(t, 0)
	stale := s.Version()
	seedIliad(t, s)

	ok, err := s.RestoreFrom(&ChangeSet{}, stale)
	require.NoError(t, err)
	require.False(t, ok)
	_, found := s.Language("grc")
	require.True(t, found)

	ok, err = s.RestoreFrom(&ChangeSet{Languages: []model.Language{{Code: "lat", Name: "Latin"}}}, s.Version())
	require.NoError(t, err)
	require.True(t, ok)
	_, found = s.Language("grc")
	require.False(t, found)
}
