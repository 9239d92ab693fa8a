// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ranker

import (
	"math"
	"regexp"
	"strings"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// =============================================================================
// BM25 Index
// =============================================================================

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var noiseWords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true, "for": true,
	"and": true, "or": true, "in": true, "on": true, "with": true, "is": true,
	"this": true, "that": true, "from": true, "please": true, "can": true,
	"you": true, "me": true, "it": true, "be": true, "are": true,
}

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

// extractQueryTerms lowercases s, splits on non-alphanumeric boundaries, and
// drops noise words and single-character tokens, returning the distinct
// surviving terms as a set.
func extractQueryTerms(s string) map[string]bool {
	lower := strings.ToLower(s)
	tokens := wordSplit.Split(lower, -1)
	terms := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 || noiseWords[tok] {
			continue
		}
		terms[tok] = true
	}
	return terms
}

// bm25Doc holds the BM25 representation of a single tool's corpus.
type bm25Doc struct {
	name string
	tf   map[string]int
	len  int
}

// BM25Index is a pre-built inverted index over tool name/description text,
// providing a lexical relevance signal that complements the additive
// rule-based score and the embedding-based semantic score.
//
// # Thread Safety
//
// Immutable after construction via BuildBM25Index. Safe for concurrent use.
type BM25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// BuildBM25Index constructs a BM25Index from a slice of tool descriptors.
// Each tool's document is its name plus description text. Empty input
// returns a valid, empty index that scores every query at zero.
func BuildBM25Index(tools []domain.ToolDescriptor) *BM25Index {
	if len(tools) == 0 {
		return &BM25Index{idf: make(map[string]float64)}
	}

	docs := make([]bm25Doc, 0, len(tools))
	totalLen := 0
	df := make(map[string]int)

	for _, tool := range tools {
		doc := buildDoc(tool)
		docs = append(docs, doc)
		totalLen += doc.len
		for term := range doc.tf {
			df[term]++
		}
	}

	n := len(docs)
	avgLen := float64(totalLen) / float64(n)

	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &BM25Index{docs: docs, idf: idf, avgLen: avgLen}
}

func buildDoc(tool domain.ToolDescriptor) bm25Doc {
	raw := tool.Name + " " + tool.Description
	termSet := extractQueryTerms(raw)

	tf := make(map[string]int, len(termSet))
	for term := range termSet {
		tf[term] = 1
	}

	return bm25Doc{name: tool.Name, tf: tf, len: len(tf)}
}

// IsEmpty reports whether the index contains no tool documents.
func (idx *BM25Index) IsEmpty() bool {
	return len(idx.docs) == 0
}

// Score computes a BM25 score for each tool given a query string, normalized
// to [0, 1] by dividing by the maximum score observed. Tools with zero score
// are omitted from the result.
func (idx *BM25Index) Score(query string) map[string]float64 {
	if query == "" || len(idx.docs) == 0 {
		return make(map[string]float64)
	}

	queryTerms := extractQueryTerms(query)
	if len(queryTerms) == 0 {
		return make(map[string]float64)
	}

	scores := make(map[string]float64, len(idx.docs))
	var maxScore float64

	for _, doc := range idx.docs {
		score := bm25Score(queryTerms, doc, idx.idf, idx.avgLen)
		if score > 0 {
			scores[doc.name] = score
			if score > maxScore {
				maxScore = score
			}
		}
	}

	if maxScore > 0 {
		for name := range scores {
			scores[name] /= maxScore
		}
	}

	return scores
}

func bm25Score(queryTerms map[string]bool, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	dl := float64(doc.len)
	var score float64

	for term := range queryTerms {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, known := idf[term]
		if !known {
			continue
		}
		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/avgLen)
		denominator := tfFloat + lengthNorm
		score += termIDF * (numerator / denominator)
	}

	return score
}
