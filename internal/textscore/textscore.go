// Package textscore holds the tokenizer and cheap similarity measures
// shared by the matchers and the deviation detector.
package textscore

import (
	"math"
	"strings"
	"unicode"
)

// stopWords are dropped before scoring. The corpus is mixed German and
// English so both are listed.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "is": true,
	"are": true, "to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "it": true, "this": true, "that": true, "be": true, "can": true,
	"not": true, "my": true, "i": true, "we": true, "you": true, "at": true,
	"der": true, "die": true, "das": true, "und": true, "oder": true, "ist": true,
	"sind": true, "ein": true, "eine": true, "einen": true, "kann": true,
	"nicht": true, "werden": true, "wird": true, "ich": true, "wir": true,
	"mit": true, "von": true, "zu": true, "im": true, "bei": true, "auf": true,
	"es": true, "sich": true, "mein": true, "meine": true, "den": true, "dem": true,
	"ts": true, "tsx": true, "js": true, "jsx": true,
}

// Tokenize lowercases text and splits it into letter/digit runs. CamelCase
// and path separators split tokens, so "lib/pdf/parsePdf.ts" yields
// lib, pdf, parse, pdf. Stop words and single characters are dropped.
func Tokenize(text string) []string {
	var (
		tokens  []string
		current []rune
	)
	flush := func() {
		if len(current) > 1 {
			tok := strings.ToLower(string(current))
			if !stopWords[tok] {
				tokens = append(tokens, tok)
			}
		}
		current = current[:0]
	}
	runes := []rune(text)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			flush()
		}
		current = append(current, r)
	}
	flush()
	return tokens
}

// Set returns the distinct tokens of text.
func Set(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// KeywordOverlap returns the share of query tokens found in the
// vocabulary, in [0,1]. Zero when the query has no tokens.
func KeywordOverlap(query, vocabulary map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if vocabulary[tok] || prefixHit(tok, vocabulary) {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// prefixHit matches inflected forms ("hochladen"/"hochgeladen" do not
// share a prefix, but "upload"/"uploads" do) with a 5 rune minimum.
func prefixHit(tok string, vocabulary map[string]bool) bool {
	if len([]rune(tok)) < 5 {
		return false
	}
	for v := range vocabulary {
		if len([]rune(v)) < 5 {
			continue
		}
		if strings.HasPrefix(v, tok) || strings.HasPrefix(tok, v) {
			return true
		}
	}
	return false
}

// Cosine computes term-frequency cosine similarity between two texts.
func Cosine(a, b string) float64 {
	va := frequencies(Tokenize(a))
	vb := frequencies(Tokenize(b))
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, fa := range va {
		na += fa * fa
		if fb, ok := vb[tok]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range vb {
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ContainsAny reports whether lowered text contains any of the phrases.
func ContainsAny(text string, phrases ...string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func frequencies(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}
