package embedding

import (
	"strings"
	"unicode"
)

// TermOptions bounds which tokens count as terms.
type TermOptions struct {
	MinLength int
	MaxLength int
	MaxTerms  int
}

// DefaultTermOptions are the bounds used when none are configured.
var DefaultTermOptions = TermOptions{MinLength: 2, MaxLength: 50, MaxTerms: 1000}

// Term is a distinct token and how often it occurs in one text.
type Term struct {
	Text      string
	Frequency int
}

// Terms splits text on non-alphanumeric runes, lower-cases each run and drops runs outside
// the length bounds. Distinct terms are returned in first-seen order, at most MaxTerms.
func Terms(text string, opts TermOptions) []Term {
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultTermOptions.MaxTerms
	}
	var terms []Term
	index := make(map[string]int)
	for _, word := range strings.FieldsFunc(text, isSeparator) {
		n := len([]rune(word))
		if n < opts.MinLength || (opts.MaxLength > 0 && n > opts.MaxLength) {
			continue
		}
		word = strings.ToLower(word)
		if i, ok := index[word]; ok {
			terms[i].Frequency++
			continue
		}
		if len(terms) >= opts.MaxTerms {
			continue
		}
		index[word] = len(terms)
		terms = append(terms, Term{Text: word, Frequency: 1})
	}
	return terms
}

// TermStrings returns the text of each term.
func TermStrings(terms []Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Text
	}
	return out
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// HashTerm maps a term to a dimension with the 31-multiplier string hash.
func HashTerm(term string, dims int) int {
	var h uint32
	for i := 0; i < len(term); i++ {
		h = h*31 + uint32(term[i])
	}
	return int(h % uint32(dims))
}

// spread adds weight at dim and a fraction of it to both neighbours, without wraparound.
func spread(values []float32, dim int, weight, fraction float64) {
	values[dim] += float32(weight)
	if fraction == 0 {
		return
	}
	if dim > 0 {
		values[dim-1] += float32(weight * fraction)
	}
	if dim < len(values)-1 {
		values[dim+1] += float32(weight * fraction)
	}
}

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer assigns hash-based vocabulary IDs to the terms of a text.
type SimpleTokenizer struct{}

// Tokenize produces padded token IDs up to maxTokens, wrapped in [CLS] and [SEP].
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = 101 // [CLS]
	attentionMask[0] = 1

	pos := 1
	for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashTerm(word, 30000))
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = 102 // [SEP]
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}
