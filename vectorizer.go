package gscluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"gonum.org/v1/gonum/floats"
)

// TermVector is a sparse TF-IDF vector. Indices are ascending positions in the
// vocabulary and Weights holds the matching L2-normalized weights.
type TermVector struct {
	Indices []int
	Weights []float64
}

// IsZero reports whether the vector has no weight on any term.
func (tv TermVector) IsZero() bool {
	for _, w := range tv.Weights {
		if w != 0 {
			return false
		}
	}
	return true
}

// Vectorizer is a TF-IDF vector space fitted on a fixed corpus of URLs.
// It is read-only after NewVectorizer returns.
type Vectorizer struct {
	corpus       []string
	vocabulary   map[string]int
	idf          []float64
	docs         []TermVector
	stemLanguage string
}

// VectorizerOption configures a Vectorizer.
type VectorizerOption func(*Vectorizer)

// WithStemming reduces every token to its snowball stem in language
// (e.g. "spanish", "english") before counting.
func WithStemming(language string) VectorizerOption {
	return func(v *Vectorizer) {
		v.stemLanguage = language
	}
}

// NewVectorizer fits a vector space on corpus. Term weights are raw counts
// multiplied by the smoothed inverse document frequency
// ln((1+n)/(1+df))+1, and every document vector is L2-normalized.
func NewVectorizer(corpus []string, opts ...VectorizerOption) (*Vectorizer, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}

	v := &Vectorizer{
		corpus:     corpus,
		vocabulary: make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}

	counts := make([]map[string]int, len(corpus))
	df := make(map[string]int)
	for i, doc := range corpus {
		counts[i] = v.termCounts(doc)
		for term := range counts[i] {
			df[term]++
		}
	}
	if len(df) == 0 {
		return nil, fmt.Errorf("%w: %d URLs without any term", ErrEmptyCorpus, len(corpus))
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocabulary[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	v.docs = make([]TermVector, len(corpus))
	for i, c := range counts {
		v.docs[i] = v.weigh(c)
	}

	return v, nil
}

// Len returns the number of documents in the corpus.
func (v *Vectorizer) Len() int {
	return len(v.corpus)
}

// VocabularySize returns the number of distinct terms in the corpus.
func (v *Vectorizer) VocabularySize() int {
	return len(v.idf)
}

// Document returns the i-th corpus document.
func (v *Vectorizer) Document(i int) string {
	return v.corpus[i]
}

// Transform projects doc into the fitted space. Terms missing from the corpus
// vocabulary are ignored.
func (v *Vectorizer) Transform(doc string) TermVector {
	return v.weigh(v.termCounts(doc))
}

// Similarities returns the cosine similarity between doc and every corpus
// document, in corpus order.
func (v *Vectorizer) Similarities(doc string) []float64 {
	query := v.Transform(doc)
	dense := make([]float64, len(v.idf))
	for i, idx := range query.Indices {
		dense[idx] = query.Weights[i]
	}

	sims := make([]float64, len(v.docs))
	var scratch []float64
	for i, d := range v.docs {
		scratch = scratch[:0]
		for _, idx := range d.Indices {
			scratch = append(scratch, dense[idx])
		}
		// Both vectors are unit length, so the dot product is the cosine.
		sims[i] = floats.Dot(d.Weights, scratch)
	}
	return sims
}

// Nearest returns the index of the corpus document most similar to doc and
// the similarity. Ties go to the lowest index. ErrNoSimilarityMatch is
// returned when doc shares no term with the corpus.
func (v *Vectorizer) Nearest(doc string) (int, float64, error) {
	sims := v.Similarities(doc)
	best := floats.MaxIdx(sims)
	if sims[best] <= 0 {
		return -1, 0, ErrNoSimilarityMatch
	}
	return best, sims[best], nil
}

func (v *Vectorizer) weigh(counts map[string]int) TermVector {
	indexCounts := make(map[int]int, len(counts))
	indices := make([]int, 0, len(counts))
	for term, count := range counts {
		idx, ok := v.vocabulary[term]
		if !ok {
			continue
		}
		indexCounts[idx] = count
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	weights := make([]float64, len(indices))
	for i, idx := range indices {
		weights[i] = float64(indexCounts[idx]) * v.idf[idx]
	}
	if len(weights) > 0 {
		if norm := floats.Norm(weights, 2); norm > 0 {
			floats.Scale(1/norm, weights)
		}
	}

	return TermVector{Indices: indices, Weights: weights}
}

func (v *Vectorizer) termCounts(doc string) map[string]int {
	counts := make(map[string]int)
	for _, token := range tokenize(doc) {
		if v.stemLanguage != "" {
			token = stemToken(token, v.stemLanguage)
		}
		counts[token]++
	}
	return counts
}

// tokenize lowercases doc and returns its runs of letters, digits and
// underscores that are at least two runes long. Combining marks split tokens,
// so decomposed accents behave like the \w token pattern.
func tokenize(doc string) []string {
	fields := strings.FieldsFunc(strings.ToLower(doc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func stemToken(token, language string) string {
	stem, err := snowball.Stem(token, language, true)
	if err != nil || stem == "" {
		return token
	}
	return stem
}
