package searchindex

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize normalizes s with NFKC and case folding, then splits on anything
// that is not a letter or digit.
func Tokenize(s string) []string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// uniqueTokens returns distinct tokens in first-seen order
func uniqueTokens(s string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, tok := range Tokenize(s) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// searchableText concatenates fields; title and keywords are repeated to weight them
func searchableText(doc *Document) string {
	keywords := strings.Join(doc.Keywords, " ")
	return strings.Join([]string{
		doc.Title, doc.Title,
		keywords, keywords,
		doc.Intent,
		doc.Category,
		doc.Description,
		doc.Content,
	}, " ")
}

// scoreLexical returns a BM25 score per document for query, computed over docs as the corpus
func scoreLexical(query string, docs []*Document) []float64 {
	scores := make([]float64, len(docs))
	terms := uniqueTokens(query)
	if len(terms) == 0 || len(docs) == 0 {
		return scores
	}

	freqs := make([]map[string]int, len(docs))
	lengths := make([]int, len(docs))
	df := make(map[string]int)
	total := 0

	for i, doc := range docs {
		tokens := Tokenize(searchableText(doc))
		lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int)
		for _, tok := range tokens {
			tf[tok]++
		}
		freqs[i] = tf

		for _, term := range terms {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}

	n := float64(len(docs))
	avgLen := float64(total) / n
	if avgLen == 0 {
		return scores
	}

	for i := range docs {
		for _, term := range terms {
			tf := float64(freqs[i][term])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
			weight := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(lengths[i])/avgLen))
			scores[i] += idf * weight
		}
	}

	return scores
}
