package store

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// namespace roots every identifier; ids are name-based (SHA-1) UUIDs so that
// re-ingesting identical data yields identical ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/xxxsen/lectio"))

func nameID(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))).String()
}

func WorkID(source, language, title string) string {
	return nameID("work", source, language, title)
}

func SegmentID(workID string, ordinal int) string {
	return nameID("segment", workID, strconv.Itoa(ordinal))
}

func TokenID(segmentID string, index int) string {
	return nameID("token", segmentID, strconv.Itoa(index))
}

func LexemeID(language, lemma string) string {
	return nameID("lexeme", language, lemma)
}

func GrammarTopicID(source, anchor string) string {
	return nameID("grammar_topic", source, anchor)
}
