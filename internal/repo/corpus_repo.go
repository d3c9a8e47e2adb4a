package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/pkg/dbutil"
	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
	"github.com/xxxsen/lectio/internal/store"
)

const insertBatch = 500

// CorpusRepo is the durable side of the linguistic store. Every commit is
// written in one transaction; history rows are never updated.
type CorpusRepo struct {
	db       *sql.DB
	onCommit func(seq int64)
}

func NewCorpusRepo(db *sql.DB) *CorpusRepo {
	return &CorpusRepo{db: db}
}

// OnCommit registers a callback run with the sequence of every commit this
// repo writes, after the database transaction has committed.
func (r *CorpusRepo) OnCommit(fn func(seq int64)) {
	r.onCommit = fn
}

func (r *CorpusRepo) Persist(ctx context.Context, cs *store.ChangeSet) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	inserted, superseded := revisionCounts(cs)
	var seq int64
	row := tx.QueryRowContext(ctx,
		`INSERT INTO corpus_commits (source, inserted, superseded, tombstoned, ctime) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		cs.Source, inserted, superseded, len(cs.Tombstones), time.Now().UnixMilli())
	if err = row.Scan(&seq); err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}

	for _, lang := range cs.Languages {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO languages (code, name, commit_seq) VALUES ($1, $2, $3) ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, commit_seq = EXCLUDED.commit_seq`,
			lang.Code, lang.Name, seq); err != nil {
			return fmt.Errorf("upsert language %s: %w", lang.Code, err)
		}
	}

	rows := make([]map[string]interface{}, 0, len(cs.Sources))
	for _, src := range cs.Sources {
		meta, merr := json.Marshal(src.Metadata)
		if merr != nil {
			return merr
		}
		rows = append(rows, map[string]interface{}{
			"slug":       src.Slug,
			"revision":   src.Revision,
			"title":      src.Title,
			"license":    src.License,
			"metadata":   string(meta),
			"commit_seq": seq,
		})
	}
	if err = insertRows(ctx, tx, "source_docs", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, w := range cs.Works {
		rows = append(rows, map[string]interface{}{
			"id":            w.ID,
			"revision":      w.Revision,
			"language_code": w.Language,
			"source":        w.Source,
			"author":        w.Author,
			"title":         w.Title,
			"ref_scheme":    w.RefScheme,
			"commit_seq":    seq,
		})
	}
	if err = insertRows(ctx, tx, "text_works", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, seg := range cs.Segments {
		rows = append(rows, map[string]interface{}{
			"id":            seg.ID,
			"revision":      seg.Revision,
			"supersedes":    seg.Supersedes,
			"work_id":       seg.WorkID,
			"ordinal_index": seg.Ordinal,
			"ref":           seg.Ref,
			"text_raw":      seg.TextRaw,
			"text_nfc":      seg.TextNFC,
			"text_fold":     seg.TextFold,
			"embedding":     vectorValue(seg.Embedding),
			"content_hash":  seg.ContentHash,
			"commit_seq":    seq,
		})
	}
	if err = insertRows(ctx, tx, "text_segments", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, tok := range cs.Tokens {
		rows = append(rows, map[string]interface{}{
			"id":           tok.ID,
			"revision":     tok.Revision,
			"supersedes":   tok.Supersedes,
			"segment_id":   tok.SegmentID,
			"token_index":  tok.Index,
			"surface":      tok.Surface,
			"surface_nfc":  tok.SurfaceNFC,
			"surface_fold": tok.SurfaceFold,
			"lemma":        tok.Lemma,
			"lemma_fold":   tok.LemmaFold,
			"morph_tag":    tok.MorphTag,
			"content_hash": tok.ContentHash,
			"commit_seq":   seq,
		})
	}
	if err = insertRows(ctx, tx, "tokens", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, lex := range cs.Lexemes {
		senses, merr := json.Marshal(lex.Senses)
		if merr != nil {
			return merr
		}
		rows = append(rows, map[string]interface{}{
			"id":             lex.ID,
			"revision":       lex.Revision,
			"supersedes":     lex.Supersedes,
			"language_code":  lex.Language,
			"source":         lex.Source,
			"lemma":          lex.Lemma,
			"lemma_fold":     lex.LemmaFold,
			"part_of_speech": lex.PartOfSpeech,
			"senses":         string(senses),
			"content_hash":   lex.ContentHash,
			"commit_seq":     seq,
		})
	}
	if err = insertRows(ctx, tx, "lexemes", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, topic := range cs.Topics {
		rows = append(rows, map[string]interface{}{
			"id":            topic.ID,
			"revision":      topic.Revision,
			"supersedes":    topic.Supersedes,
			"source":        topic.Source,
			"language_code": topic.Language,
			"anchor":        topic.Anchor,
			"title":         topic.Title,
			"body":          topic.Body,
			"body_fold":     topic.BodyFold,
			"embedding":     vectorValue(topic.Embedding),
			"content_hash":  topic.ContentHash,
			"commit_seq":    seq,
		})
	}
	if err = insertRows(ctx, tx, "grammar_topics", rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, ts := range cs.Tombstones {
		rows = append(rows, map[string]interface{}{
			"entity_kind": string(ts.Kind),
			"entity_id":   ts.ID,
			"revision":    ts.Revision,
			"commit_seq":  seq,
		})
	}
	if err = insertRows(ctx, tx, "tombstones", rows); err != nil {
		return err
	}

	if err = r.syncIndexRecords(ctx, tx, seq, cs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if r.onCommit != nil {
		r.onCommit(seq)
	}
	return nil
}

func (r *CorpusRepo) syncIndexRecords(ctx context.Context, tx *sql.Tx, seq int64, cs *store.ChangeSet) error {
	for _, ts := range cs.Tombstones {
		switch ts.Kind {
		case store.KindSegment, store.KindLexeme, store.KindGrammarTopic:
		default:
			continue
		}
		sqlStr, args, err := builder.BuildDelete("index_records", map[string]interface{}{"entity_id": ts.ID})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("drop index record %s: %w", ts.ID, err)
		}
	}
	for _, w := range cs.Works {
		if w.Revision == 1 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE index_records SET work_source = $1, work_title = $2 WHERE work_id = $3`,
			w.Source, w.Title, w.ID); err != nil {
			return fmt.Errorf("refresh sort keys of %s: %w", w.ID, err)
		}
	}
	for _, rec := range cs.IndexRecords {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_records (entity_type, entity_id, language_code, folded_text, embedding, label,
				work_source, work_title, work_id, segment_ordinal, lemma, anchor, commit_seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (entity_type, entity_id) DO UPDATE SET
				language_code = EXCLUDED.language_code,
				folded_text = EXCLUDED.folded_text,
				embedding = EXCLUDED.embedding,
				label = EXCLUDED.label,
				work_source = EXCLUDED.work_source,
				work_title = EXCLUDED.work_title,
				work_id = EXCLUDED.work_id,
				segment_ordinal = EXCLUDED.segment_ordinal,
				lemma = EXCLUDED.lemma,
				anchor = EXCLUDED.anchor,
				commit_seq = EXCLUDED.commit_seq`,
			string(rec.EntityType), rec.EntityID, rec.Language, rec.FoldedText, vectorValue(rec.Embedding), rec.Label,
			rec.Key.WorkSource, rec.Key.WorkTitle, rec.Key.WorkID, rec.Key.SegmentOrdinal, rec.Key.Lemma, rec.Key.Anchor, seq,
		); err != nil {
			return fmt.Errorf("upsert index record %s: %w", rec.EntityID, err)
		}
	}
	return nil
}

// LatestCommit returns the sequence number of the newest durable commit, or
// zero on an empty database.
func (r *CorpusRepo) LatestCommit(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM corpus_commits`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// Load reads the full history in the order Store.Restore expects: every
// revision of an id, oldest first, plus all tombstones. The returned seq is
// the commit the snapshot reflects.
func (r *CorpusRepo) Load(ctx context.Context) (*store.ChangeSet, int64, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM corpus_commits`).Scan(&seq); err != nil {
		return nil, 0, err
	}
	cs := &store.ChangeSet{}
	loaders := []func(context.Context, *sql.Tx, *store.ChangeSet) error{
		loadLanguages, loadSources, loadWorks, loadSegments, loadTokens, loadLexemes, loadTopics, loadTombstones,
	}
	for _, load := range loaders {
		if err := load(ctx, tx, cs); err != nil {
			return nil, 0, err
		}
	}
	return cs, seq.Int64, nil
}

const liveHeadSegment = `revision = (SELECT MAX(s2.revision) FROM text_segments s2 WHERE s2.id = text_segments.id)
	AND NOT EXISTS (SELECT 1 FROM tombstones t WHERE t.entity_kind = 'segment' AND t.entity_id = text_segments.id AND t.revision >= text_segments.revision)`

// ScanSegments lists the live head revision of every segment of a work in
// ordinal order, straight from the database.
func (r *CorpusRepo) ScanSegments(ctx context.Context, workID string, from, to int, limit uint) ([]*model.TextSegment, error) {
	where := map[string]interface{}{
		"work_id":          workID,
		"ordinal_index >=": from,
		"_custom_head":     builder.Custom(liveHeadSegment),
		"_orderby":         "ordinal_index asc",
	}
	if to > 0 {
		where["ordinal_index <="] = to
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect("text_segments", where, []string{
		"id", "revision", "supersedes", "work_id", "ordinal_index", "ref", "text_raw", "text_nfc", "text_fold", "content_hash",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.TextSegment, 0)
	for rows.Next() {
		seg := &model.TextSegment{}
		if err := rows.Scan(&seg.ID, &seg.Revision, &seg.Supersedes, &seg.WorkID, &seg.Ordinal, &seg.Ref,
			&seg.TextRaw, &seg.TextNFC, &seg.TextFold, &seg.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func revisionCounts(cs *store.ChangeSet) (inserted, superseded int) {
	count := func(supersedes int) {
		if supersedes == 0 {
			inserted++
		} else {
			superseded++
		}
	}
	for _, seg := range cs.Segments {
		count(seg.Supersedes)
	}
	for _, tok := range cs.Tokens {
		count(tok.Supersedes)
	}
	for _, lex := range cs.Lexemes {
		count(lex.Supersedes)
	}
	for _, topic := range cs.Topics {
		count(topic.Supersedes)
	}
	return inserted, superseded
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, rows []map[string]interface{}) error {
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		sqlStr, args, err := builder.BuildInsert(table, rows[start:end])
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			err = dbutil.Classify(err)
			if errors.Is(err, appErr.ErrConflict) {
				return fmt.Errorf("insert %s: revision already committed by another writer: %w", table, err)
			}
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func vectorValue(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func vectorSlice(v pgvector.Vector, valid bool) []float32 {
	if !valid {
		return nil
	}
	return v.Slice()
}

func queryAll(ctx context.Context, tx *sql.Tx, table string, cols []string, orderBy string, scan func(*sql.Rows) error) error {
	sqlStr, args, err := builder.BuildSelect(table, map[string]interface{}{"_orderby": orderBy}, cols)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := tx.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
	}
	return rows.Err()
}

func loadLanguages(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	return queryAll(ctx, tx, "languages", []string{"code", "name"}, "code asc", func(rows *sql.Rows) error {
		var lang model.Language
		if err := rows.Scan(&lang.Code, &lang.Name); err != nil {
			return err
		}
		cs.Languages = append(cs.Languages, lang)
		return nil
	})
}

func loadSources(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	return queryAll(ctx, tx, "source_docs", []string{"slug", "revision", "title", "license", "metadata"}, "slug asc, revision asc", func(rows *sql.Rows) error {
		src := &model.SourceDoc{}
		var meta []byte
		if err := rows.Scan(&src.Slug, &src.Revision, &src.Title, &src.License, &meta); err != nil {
			return err
		}
		if err := json.Unmarshal(meta, &src.Metadata); err != nil {
			return err
		}
		cs.Sources = append(cs.Sources, src)
		return nil
	})
}

func loadWorks(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"id", "revision", "language_code", "source", "author", "title", "ref_scheme"}
	return queryAll(ctx, tx, "text_works", cols, "id asc, revision asc", func(rows *sql.Rows) error {
		w := &model.TextWork{}
		if err := rows.Scan(&w.ID, &w.Revision, &w.Language, &w.Source, &w.Author, &w.Title, &w.RefScheme); err != nil {
			return err
		}
		cs.Works = append(cs.Works, w)
		return nil
	})
}

func loadSegments(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"id", "revision", "supersedes", "work_id", "ordinal_index", "ref", "text_raw", "text_nfc", "text_fold", "embedding", "content_hash"}
	return queryAll(ctx, tx, "text_segments", cols, "id asc, revision asc", func(rows *sql.Rows) error {
		seg := &model.TextSegment{}
		var emb pgvector.Vector
		var embValid sql.NullString
		if err := rows.Scan(&seg.ID, &seg.Revision, &seg.Supersedes, &seg.WorkID, &seg.Ordinal, &seg.Ref,
			&seg.TextRaw, &seg.TextNFC, &seg.TextFold, &embValid, &seg.ContentHash); err != nil {
			return err
		}
		if embValid.Valid {
			if err := emb.Scan(embValid.String); err != nil {
				return err
			}
		}
		seg.Embedding = vectorSlice(emb, embValid.Valid)
		cs.Segments = append(cs.Segments, seg)
		return nil
	})
}

func loadTokens(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"id", "revision", "supersedes", "segment_id", "token_index", "surface", "surface_nfc", "surface_fold", "lemma", "lemma_fold", "morph_tag", "content_hash"}
	return queryAll(ctx, tx, "tokens", cols, "id asc, revision asc", func(rows *sql.Rows) error {
		tok := &model.Token{}
		if err := rows.Scan(&tok.ID, &tok.Revision, &tok.Supersedes, &tok.SegmentID, &tok.Index, &tok.Surface,
			&tok.SurfaceNFC, &tok.SurfaceFold, &tok.Lemma, &tok.LemmaFold, &tok.MorphTag, &tok.ContentHash); err != nil {
			return err
		}
		cs.Tokens = append(cs.Tokens, tok)
		return nil
	})
}

func loadLexemes(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"id", "revision", "supersedes", "language_code", "source", "lemma", "lemma_fold", "part_of_speech", "senses", "content_hash"}
	return queryAll(ctx, tx, "lexemes", cols, "id asc, revision asc", func(rows *sql.Rows) error {
		lex := &model.Lexeme{}
		var senses []byte
		if err := rows.Scan(&lex.ID, &lex.Revision, &lex.Supersedes, &lex.Language, &lex.Source, &lex.Lemma,
			&lex.LemmaFold, &lex.PartOfSpeech, &senses, &lex.ContentHash); err != nil {
			return err
		}
		if err := json.Unmarshal(senses, &lex.Senses); err != nil {
			return err
		}
		cs.Lexemes = append(cs.Lexemes, lex)
		return nil
	})
}

func loadTopics(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"id", "revision", "supersedes", "source", "language_code", "anchor", "title", "body", "body_fold", "embedding", "content_hash"}
	return queryAll(ctx, tx, "grammar_topics", cols, "id asc, revision asc", func(rows *sql.Rows) error {
		topic := &model.GrammarTopic{}
		var emb pgvector.Vector
		var embValid sql.NullString
		if err := rows.Scan(&topic.ID, &topic.Revision, &topic.Supersedes, &topic.Source, &topic.Language, &topic.Anchor,
			&topic.Title, &topic.Body, &topic.BodyFold, &embValid, &topic.ContentHash); err != nil {
			return err
		}
		if embValid.Valid {
			if err := emb.Scan(embValid.String); err != nil {
				return err
			}
		}
		topic.Embedding = vectorSlice(emb, embValid.Valid)
		cs.Topics = append(cs.Topics, topic)
		return nil
	})
}

func loadTombstones(ctx context.Context, tx *sql.Tx, cs *store.ChangeSet) error {
	cols := []string{"entity_kind", "entity_id", "revision"}
	return queryAll(ctx, tx, "tombstones", cols, "commit_seq asc, entity_id asc", func(rows *sql.Rows) error {
		var ts store.Tombstone
		var kind string
		if err := rows.Scan(&kind, &ts.ID, &ts.Revision); err != nil {
			return err
		}
		ts.Kind = store.Kind(kind)
		cs.Tombstones = append(cs.Tombstones, ts)
		return nil
	})
}
