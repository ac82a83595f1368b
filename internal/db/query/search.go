package query

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Tokenize lower-cases s and splits it on anything that is not a letter
// or a digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// MatchSearch scores a field value against the query terms. Every term
// must equal a token of the value, except the last which may be a
// prefix. The score counts terms that matched a whole token.
func MatchSearch(value string, terms []string) (int, bool) {
	if len(terms) == 0 {
		return 0, false
	}
	tokens := Tokenize(value)
	score := 0
	for i, term := range terms {
		exact, prefix := false, false
		for _, tok := range tokens {
			if tok == term {
				exact = true
				break
			}
			if strings.HasPrefix(tok, term) {
				prefix = true
			}
		}
		switch {
		case exact:
			score++
		case prefix && i == len(terms)-1:
		default:
			return 0, false
		}
	}
	return score, true
}

// ApplySearch keeps the records whose search field matches text and
// orders them by score, best first. Ties keep the incoming order.
func (b *Builder) ApplySearch(records []map[string]interface{}, search *interfaces.SearchQuery) ([]map[string]interface{}, error) {
	idx, ok := b.schema.SearchIndex(search.Index)
	if !ok {
		return nil, fmt.Errorf("%w: table %s has no search index %s", interfaces.ErrInvalidQuery, b.schema.TableName, search.Index)
	}
	terms := Tokenize(search.Text)

	type scored struct {
		record map[string]interface{}
		score  int
	}
	matches := make([]scored, 0, len(records))
	for _, record := range records {
		value, _ := record[idx.SearchField].(string)
		if score, ok := MatchSearch(value, terms); ok {
			matches = append(matches, scored{record: record, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]map[string]interface{}, len(matches))
	for i, m := range matches {
		out[i] = m.record
	}
	return out, nil
}
