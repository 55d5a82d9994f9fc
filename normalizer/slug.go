package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transliteration maps lowercase accented letters and separators to their
// plain-ASCII slug form.
var transliteration = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ä': "a", 'æ': "a", 'ã': "a", 'å': "a", 'ā': "a", 'ă': "a", 'ą': "a",
	'ç': "c", 'ć': "c", 'č': "c",
	'đ': "d", 'ď': "d",
	'è': "e", 'é': "e", 'ê': "e", 'ë': "e", 'ē': "e", 'ė': "e", 'ę': "e", 'ě': "e",
	'ğ': "g", 'ǵ': "g",
	'ḧ': "h",
	'î': "i", 'ï': "i", 'í': "i", 'ī': "i", 'į': "i", 'ì': "i",
	'ł': "l",
	'ḿ': "m",
	'ñ': "n", 'ń': "n", 'ǹ': "n", 'ň': "n",
	'ô': "o", 'ö': "o", 'ò': "o", 'ó': "o", 'œ': "o", 'ø': "o", 'ō': "o", 'õ': "o", 'ő': "o",
	'ṕ': "p",
	'ŕ': "r", 'ř': "r",
	'ß': "s", 'ś': "s", 'š': "s", 'ş': "s", 'ș': "s",
	'ť': "t", 'ț': "t",
	'û': "u", 'ü': "u", 'ù': "u", 'ú': "u", 'ū': "u", 'ǘ': "u", 'ů': "u", 'ű': "u", 'ų': "u",
	'ẃ': "w",
	'ẍ': "x",
	'ÿ': "y", 'ý': "y",
	'ž': "z", 'ź': "z", 'ż': "z",
	'·': "-", '/': "-", '_': "-", ',': "-", ':': "-", ';': "-",
}

var (
	nonSlugPattern  = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRunPattern  = regexp.MustCompile(`-{2,}`)
	slugWhitespaces = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Slugify turns s into a lowercase, hyphen-separated token. The result may
// be empty when s has no letters or digits.
func Slugify(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(normalizeForm(strings.ToValidUTF8(s, "")))
	s = slugWhitespaces.ReplaceAllString(s, "-")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if repl, ok := transliteration[r]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	s = foldDiacritics(s)
	s = strings.ReplaceAll(s, "&", "-and-")
	s = nonSlugPattern.ReplaceAllString(s, "")
	s = dashRunPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// normalizeForm composes decomposed input so table lookups see é rather than
// e followed by a combining accent.
func normalizeForm(s string) string {
	return norm.NFC.String(s)
}

// foldDiacritics strips combining marks from letters the table does not
// list, e.g. ĉ becomes c.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// Slugger memoizes Slugify. Brand and variant names repeat across many
// products, so the same strings are slugified over and over.
type Slugger struct {
	cache *lru.Cache[string, string]
}

// NewSlugger returns a slugger with an LRU of the given size. A size of zero
// disables caching.
func NewSlugger(size int) (*Slugger, error) {
	if size <= 0 {
		return &Slugger{}, nil
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create slug cache: %w", err)
	}
	return &Slugger{cache: cache}, nil
}

// Slug returns Slugify(s), served from the cache when possible.
func (sl *Slugger) Slug(s string) string {
	if sl == nil || sl.cache == nil {
		return Slugify(s)
	}
	if cached, ok := sl.cache.Get(s); ok {
		return cached
	}
	slug := Slugify(s)
	sl.cache.Add(s, slug)
	return slug
}

// Len reports the number of cached entries.
func (sl *Slugger) Len() int {
	if sl == nil || sl.cache == nil {
		return 0
	}
	return sl.cache.Len()
}
