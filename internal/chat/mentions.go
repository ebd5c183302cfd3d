package chat

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type mentionSpan struct {
	start, end int
	mention    Mention
}

// ResolveMentions scans text for @name tokens and resolves each against the
// known users. The longest display name that follows the @ wins, so "@Ann Lee"
// resolves to "Ann Lee" even when "Ann" is also known. Unmatched tokens stay
// literal. The result is de-duplicated by user id in order of appearance.
func ResolveMentions(text string, known []Mention) []Mention {
	spans := findMentions(text, known)
	if len(spans) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(spans))
	out := make([]Mention, 0, len(spans))
	for _, s := range spans {
		if _, ok := seen[s.mention.UserID]; ok {
			continue
		}
		seen[s.mention.UserID] = struct{}{}
		out = append(out, s.mention)
	}
	return out
}

// Segment is a run of message text, either plain or a resolved mention.
type Segment struct {
	Text    string   `json:"text"`
	Mention *Mention `json:"mention,omitempty"`
}

// Segments splits text into plain and mention runs using the mentions frozen
// into the message, which is what a client highlights.
func Segments(text string, mentions []Mention) []Segment {
	spans := findMentions(text, mentions)
	out := make([]Segment, 0, 2*len(spans)+1)
	pos := 0
	for _, s := range spans {
		if s.start > pos {
			out = append(out, Segment{Text: text[pos:s.start]})
		}
		m := s.mention
		out = append(out, Segment{Text: text[s.start:s.end], Mention: &m})
		pos = s.end
	}
	if pos < len(text) {
		out = append(out, Segment{Text: text[pos:]})
	}
	return out
}

func findMentions(text string, known []Mention) []mentionSpan {
	if len(known) == 0 || !strings.Contains(text, "@") {
		return nil
	}

	candidates := make([]Mention, 0, len(known))
	for _, k := range known {
		if strings.TrimSpace(k.UserName) != "" {
			candidates = append(candidates, k)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].UserName) > len(candidates[j].UserName)
	})

	var spans []mentionSpan
	i := 0
	for i < len(text) {
		at := strings.IndexByte(text[i:], '@')
		if at < 0 {
			break
		}
		pos := i + at
		i = pos + 1

		// "bob@example.com" is an address, not a mention.
		if pos > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:pos])
			if isAlphaNum(prev) {
				continue
			}
		}

		rest := text[pos+1:]
		for _, c := range candidates {
			n := len(c.UserName)
			if len(rest) < n || !strings.EqualFold(rest[:n], c.UserName) {
				continue
			}
			if n < len(rest) {
				next, _ := utf8.DecodeRuneInString(rest[n:])
				if isAlphaNum(next) {
					continue
				}
			}
			spans = append(spans, mentionSpan{start: pos, end: pos + 1 + n, mention: c})
			i = pos + 1 + n
			break
		}
	}
	return spans
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
