// Package normalize turns raw artist/title tag strings into the stable keys
// the Store's play tables are keyed on. The pipeline is grounded on the
// reference library's title normalizer (lowercase, punctuation to space,
// whitespace collapse) extended with Unicode normalization and leading
// article stripping, since separation windows must treat "The Beatles",
// "the beatles" and "THE  BEATLES " as the same artist.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	punctuationRe   = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s]`)
	multipleSpaceRe = regexp.MustCompile(`\s+`)
)

// leadingArticles is fixed to the English set per the project's design
// notes: article stripping is locale-sensitive and not worth generalizing
// beyond the observed behavior.
var leadingArticles = []string{"the ", "a ", "an "}

// UnknownArtistBucket is the sentinel normalized-artist key used when
// LS_UNKNOWN_ARTIST_BUCKET is enabled and a file's artist tag is empty, so
// that every untagged file shares one separation window instead of each
// acting as its own distinct (and therefore unconstrained) artist.
const UnknownArtistBucket = "\x00unknown-artist"

// Key lowercases s, normalizes it to Unicode NFC, replaces punctuation with
// spaces, collapses whitespace, trims, and strips leading articles (repeatedly,
// so stacked articles all go). It is
// idempotent: Key(Key(s)) == Key(s) for all s.
func Key(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = punctuationRe.ReplaceAllString(s, " ")
	s = multipleSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = stripLeadingArticle(s)
	return s
}

// ArtistKey normalizes a raw artist string into the key the Store's
// ArtistPlay table and File.normalized_artist column use. When the result
// is empty and bucketUnknown is true, it returns UnknownArtistBucket so
// every untagged file groups under one separation window; when
// bucketUnknown is false, the bare empty string is returned instead. Either
// way every untagged file still shares one key with every other untagged
// file, since ArtistPlay is keyed by exact string equality — the flag
// changes the sentinel's spelling, not whether untagged files share a
// window.
func ArtistKey(raw string, bucketUnknown bool) string {
	key := Key(raw)
	if key == "" && bucketUnknown {
		return UnknownArtistBucket
	}
	return key
}

// TitleKey normalizes a raw title string into the key the Store's
// TitlePlay table and File.normalized_title column use.
func TitleKey(raw string) string {
	return Key(raw)
}

// stripLeadingArticle strips leading articles to a fixed point, since a
// title can carry a stacked article ("The A Team" -> "a team" -> "team"):
// stripping only once would leave Key non-idempotent.
func stripLeadingArticle(s string) string {
	for {
		stripped := false
		for _, article := range leadingArticles {
			if strings.HasPrefix(s, article) {
				s = strings.TrimPrefix(s, article)
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}
