// Package normalizer derives display names and unique URL-safe ids for
// catalog products.
package normalizer

import (
	"regexp"
	"strings"
)

var (
	datePattern = regexp.MustCompile(`\[\d{4}-\d{2}-\d{2}\]`)
	// Emoticons, pictographs, transport, alchemical, geometric extended,
	// supplemental arrows, supplemental symbols, chess, symbols extended-A,
	// misc symbols and dingbats, plus the joiners that survive them.
	emojiPattern = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F700}-\x{1F77F}\x{1F780}-\x{1F7FF}\x{1F800}-\x{1F8FF}\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FA6F}\x{1FA70}-\x{1FAFF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}\x{FE0F}\x{200D}]`)
	punctuationPattern = regexp.MustCompile(`[!$@#%^&*()_+=\[\]{};':"\\|,.<>/?~]`)
	spacePattern       = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// CleanDisplayName strips dates, emoji and punctuation from a raw product
// name and collapses whitespace. Invalid UTF-8 bytes are dropped.
func CleanDisplayName(name string) string {
	if name == "" {
		return ""
	}
	name = normalizeForm(strings.ToValidUTF8(name, ""))
	name = datePattern.ReplaceAllString(name, "")
	name = emojiPattern.ReplaceAllString(name, "")
	name = punctuationPattern.ReplaceAllString(name, "")
	name = spacePattern.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
