package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Platform mention tokens: <@123>, <@!123>.
	mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
	// Custom emoji tokens: <:name:123>, <a:name:123>.
	customEmojiPattern = regexp.MustCompile(`<a?:\w+:\d+>`)
	wordCharPattern    = regexp.MustCompile(`\w`)
)

// ExtractMentions parses mentioned user ids out of raw message content,
// deduplicated in order of first appearance.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// stripEmoji removes custom emoji tokens and unicode pictographs so a
// message made only of reactions-as-text does not count as content.
func stripEmoji(content string) string {
	content = customEmojiPattern.ReplaceAllString(content, "")
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if isPictograph(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPictograph(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // symbols, pictographs, emoticons
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r == 0x200D: // zero-width joiner
		return true
	default:
		return false
	}
}

// QualifiesForBuffer is the pre-buffer filter: command-prefixed text and
// messages without meaningful text content never enter a conversation
// buffer.
func QualifiesForBuffer(content string, commandPrefixes []string, minWordChars int) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	for _, p := range commandPrefixes {
		if p != "" && strings.HasPrefix(trimmed, p) {
			return false
		}
	}
	stripped := stripEmoji(mentionPattern.ReplaceAllString(trimmed, ""))
	return len(wordCharPattern.FindAllString(stripped, minWordChars)) >= minWordChars
}

// ContainsName reports whether content uses one of the given display names
// as plain text, case-insensitive. Very short names are skipped to avoid
// matching inside unrelated words.
func ContainsName(content string, names []string) bool {
	lowered := strings.ToLower(content)
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if len(n) < 3 {
			continue
		}
		idx := strings.Index(lowered, n)
		for idx >= 0 {
			before := idx - 1
			after := idx + len(n)
			beforeOK := before < 0 || !isWordByte(lowered[before])
			afterOK := after >= len(lowered) || !isWordByte(lowered[after])
			if beforeOK && afterOK {
				return true
			}
			next := strings.Index(lowered[idx+1:], n)
			if next < 0 {
				break
			}
			idx = idx + 1 + next
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	// Back off to a rune boundary.
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
