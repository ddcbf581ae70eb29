package healing

import (
	"context"
	"sort"
	"strings"
)

// maxDocExcerpts bounds how many paragraphs KeywordSearcher returns so a
// single searchDocumentation call can't flood the LLM session with the
// entire documentation body.
const maxDocExcerpts = 3

// KeywordSearcher answers searchDocumentation by splitting the
// integration's documentation into paragraphs and ranking them by how many
// of the query's words they contain. No ranked-retrieval library appears
// anywhere in the retrieval pack, so this is plain substring/word scoring
// over stdlib strings - the same level of sophistication the teacher's own
// filter modules use for text matching.
type KeywordSearcher struct{}

// NewKeywordSearcher returns a documentation searcher backed by naive
// keyword scoring.
func NewKeywordSearcher() KeywordSearcher {
	return KeywordSearcher{}
}

// Search implements DocumentationSearcher.
func (KeywordSearcher) Search(_ context.Context, documentation string, query string) (string, error) {
	if strings.TrimSpace(documentation) == "" {
		return "no documentation is available for this integration", nil
	}

	terms := queryTerms(query)
	paragraphs := splitParagraphs(documentation)
	if len(terms) == 0 {
		return strings.Join(paragraphs[:min(len(paragraphs), maxDocExcerpts)], "\n\n"), nil
	}

	type scored struct {
		text  string
		score int
	}
	ranked := make([]scored, 0, len(paragraphs))
	for _, p := range paragraphs {
		lower := strings.ToLower(p)
		score := 0
		for _, t := range terms {
			score += strings.Count(lower, t)
		}
		if score > 0 {
			ranked = append(ranked, scored{text: p, score: score})
		}
	}

	if len(ranked) == 0 {
		return "no matching section found in the documentation", nil
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for i := 0; i < len(ranked) && i < maxDocExcerpts; i++ {
		out = append(out, ranked[i].text)
	}
	return strings.Join(out, "\n\n"), nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}
