package index

import (
	"math"
	"strings"
	"time"

	"sonet/internal/domain"
)

// Weights blends the ranking factors. Zero-valued weights disable their
// factor.
type Weights struct {
	ExactMatch        float64
	PartialMatch      float64
	Relevance         float64 // tf-idf
	Recency           float64
	UserInteraction   float64
	MessageImportance float64
	ContextMatch      float64
	SemanticMatch     float64
	Popularity        float64
	PersonalRelevance float64
}

// DefaultWeights returns the production blend.
func DefaultWeights() Weights {
	return Weights{
		ExactMatch:        2.0,
		PartialMatch:      1.0,
		Relevance:         1.5,
		Recency:           1.0,
		UserInteraction:   0.5,
		MessageImportance: 0.5,
		ContextMatch:      0.3,
		SemanticMatch:     1.0,
		Popularity:        0.3,
		PersonalRelevance: 0.3,
	}
}

// score blends the configured factors for one candidate document.
func (ix *Index) score(ent *entry, terms []string, matched int, queryVec []float32, q domain.SearchQuery, now time.Time) float64 {
	w := ix.cfg.Weights
	var s float64

	// Exact phrase match on the casefolded content.
	if w.ExactMatch > 0 && strings.Contains(strings.ToLower(ent.doc.Content), strings.ToLower(strings.TrimSpace(q.Query))) {
		s += w.ExactMatch
	}

	// Fraction of query terms present.
	if w.PartialMatch > 0 && len(terms) > 0 {
		s += w.PartialMatch * float64(matched) / float64(len(terms))
	}

	// tf-idf over matched terms.
	if w.Relevance > 0 {
		total := len(ix.docs)
		var tfidf float64
		for _, term := range terms {
			positions, ok := ent.terms[term]
			if !ok {
				continue
			}
			df := ix.docFreq[term]
			if df == 0 {
				continue
			}
			tf := 1 + math.Log(float64(len(positions)))
			idf := math.Log(1 + float64(total)/float64(df))
			tfidf += tf * idf
		}
		// Squash so long documents cannot dominate the blend.
		s += w.Relevance * math.Tanh(tfidf/4)
	}

	// Exponential recency decay with a configured half-life.
	if w.Recency > 0 && ix.cfg.RecencyHalfLife > 0 {
		age := now.Sub(ent.doc.Timestamp)
		if age < 0 {
			age = 0
		}
		s += w.Recency * math.Exp(-math.Ln2*age.Seconds()/ix.cfg.RecencyHalfLife.Seconds())
	}

	if w.UserInteraction > 0 {
		s += w.UserInteraction * math.Tanh(ent.doc.Engagement)
	}
	if w.MessageImportance > 0 && (ent.doc.Important || ent.doc.Pinned) {
		s += w.MessageImportance
	}
	if w.ContextMatch > 0 && q.Filters.ChatID != "" && ent.doc.ChatID == q.Filters.ChatID {
		s += w.ContextMatch
	}
	if w.SemanticMatch > 0 && len(queryVec) > 0 && len(ent.vector) > 0 {
		if sim := cosine(queryVec, ent.vector); sim > 0 {
			s += w.SemanticMatch * sim
		}
	}
	if w.Popularity > 0 {
		s += w.Popularity * math.Tanh(ent.doc.Engagement/10)
	}
	if w.PersonalRelevance > 0 {
		for _, uid := range q.Filters.IncludeUsers {
			if ent.doc.UserID == uid {
				s += w.PersonalRelevance
				break
			}
		}
	}
	return s
}

// matchFilters applies every structured filter to one document.
func matchFilters(doc *domain.IndexDoc, f domain.SearchFilters) bool {
	if f.Scope == domain.ScopeChat && f.ChatID != "" && doc.ChatID != f.ChatID {
		return false
	}
	if f.Scope == domain.ScopeThreads && doc.ThreadID == "" {
		return false
	}
	if len(f.IncludeUsers) > 0 {
		found := false
		for _, uid := range f.IncludeUsers {
			if doc.UserID == uid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, uid := range f.ExcludeUsers {
		if doc.UserID == uid {
			return false
		}
	}
	if !f.From.IsZero() && doc.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && doc.Timestamp.After(f.To) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if doc.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	lower := strings.ToLower(doc.Content)
	for _, tag := range f.Hashtags {
		if !strings.Contains(lower, "#"+strings.ToLower(strings.TrimPrefix(tag, "#"))) {
			return false
		}
	}
	for _, mention := range f.Mentions {
		if !strings.Contains(lower, "@"+strings.ToLower(strings.TrimPrefix(mention, "@"))) {
			return false
		}
	}
	if f.HasAttachments && !doc.HasAttachments {
		return false
	}
	if f.Starred && !doc.Starred {
		return false
	}
	if f.Pinned && !doc.Pinned {
		return false
	}
	return true
}

// snippet returns a short window of content around the first matched term.
func snippet(content string, terms []string) string {
	const window = 80
	if len(content) <= window {
		return content
	}
	lower := strings.ToLower(content)
	at := -1
	for _, term := range terms {
		if i := strings.Index(lower, term); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		return content[:window]
	}
	start := at - window/4
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
