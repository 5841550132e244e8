package insights

import (
	"strings"

	"github.com/lanternhq/lantern/internal/models"
)

const citationPrefix = "[Source:"

// ExtractCitations scans generated text for non-overlapping [Source: TITLE]
// markers and returns the titles in order of appearance. The scanner is
// deliberately tolerant of model output: an unterminated "[Source:" sequence
// is treated as literal text, and a backslash escapes the closing bracket.
func ExtractCitations(answer string) []string {
	var titles []string

	for i := 0; i < len(answer); {
		idx := strings.Index(answer[i:], citationPrefix)
		if idx < 0 {
			break
		}
		start := i + idx + len(citationPrefix)

		end := -1
		for j := start; j < len(answer); j++ {
			if answer[j] == '\\' {
				j++ // skip the escaped character
				continue
			}
			if answer[j] == ']' {
				end = j
				break
			}
		}
		if end < 0 {
			// Unterminated marker: leave it as literal text.
			break
		}

		title := strings.TrimSpace(unescapeBrackets(answer[start:end]))
		if title != "" {
			titles = append(titles, title)
		}
		i = end + 1
	}

	return titles
}

func unescapeBrackets(s string) string {
	return strings.ReplaceAll(s, `\]`, `]`)
}

// ResolveSources maps cited titles onto the request's documents, preserving
// citation order and dropping duplicates and unknown titles. When the answer
// carries no citations at all, every contributing document is credited.
func ResolveSources(answer string, contributing []models.DocumentResult) (ids, titles []string) {
	byTitle := make(map[string]string, len(contributing))
	for _, doc := range contributing {
		if _, dup := byTitle[doc.DocumentTitle]; !dup {
			byTitle[doc.DocumentTitle] = doc.DocumentID
		}
	}

	cited := ExtractCitations(answer)
	if len(cited) == 0 {
		for _, doc := range contributing {
			ids = append(ids, doc.DocumentID)
			titles = append(titles, doc.DocumentTitle)
		}
		return ids, titles
	}

	seen := make(map[string]struct{}, len(cited))
	for _, title := range cited {
		id, ok := byTitle[title]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		titles = append(titles, title)
	}
	return ids, titles
}
