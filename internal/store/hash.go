package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/xxxsen/lectio/internal/model"
)

func contentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func embeddingKey(v []float32) string {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return string(buf)
}

func sourceHash(doc *model.SourceDoc) string {
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{doc.Slug, doc.Title, doc.License}
	for _, k := range keys {
		parts = append(parts, k, doc.Metadata[k])
	}
	return contentHash(parts...)
}

func workHash(w *model.TextWork) string {
	return contentHash(w.Language, w.Source, w.Author, w.Title, w.RefScheme)
}

func segmentHash(seg *model.TextSegment) string {
	return contentHash(seg.WorkID, strconv.Itoa(seg.Ordinal), seg.Ref, seg.TextRaw, embeddingKey(seg.Embedding))
}

func tokenHash(tok *model.Token) string {
	return contentHash(tok.SegmentID, strconv.Itoa(tok.Index), tok.SurfaceNFC, tok.Lemma, tok.MorphTag)
}

func lexemeHash(lex *model.Lexeme) string {
	senses, _ := json.Marshal(lex.Senses)
	return contentHash(lex.Language, lex.Source, lex.Lemma, lex.PartOfSpeech, string(senses))
}

func topicHash(topic *model.GrammarTopic) string {
	return contentHash(topic.Language, topic.Source, topic.Anchor, topic.Title, topic.Body, embeddingKey(topic.Embedding))
}
