// Package anchor re-locates oracle citations inside document text for
// highlighting. Citations are free text: an exact quote, a truncated quote
// with a trailing ellipsis, or a paraphrase. Each candidate runs through an
// ordered cascade of pure strategies; the first hit wins, and a candidate
// with no hit simply contributes no range.
package anchor

import (
	"sort"
	"strings"
)

// Range is a byte-offset span of the document text to highlight. IsLiveQuery
// marks ranges that originated from the caller's live search string so the
// UI can style them differently from citation hits, even after merging.
type Range struct {
	Start       int  `json:"start"`
	End         int  `json:"end"`
	IsLiveQuery bool `json:"isLiveQuery"`
}

// span is a single strategy outcome: matched at [start,end), or nil.
type span struct {
	start, end int
}

// strategy tries to place candidate inside docLower (the document text
// lowercased once by the caller). Strategies never see each other's results.
type strategy func(docLower, candidate string) *span

// strategies is the ordered fallback cascade applied per candidate.
var strategies = []strategy{
	exactMatch,
	prefixMatch(100),
	prefixMatch(50),
	firstSentenceMatch,
	longestWordMatch,
}

// Locate finds best-effort highlight spans for the stored citations plus an
// optional live search string. Results are sorted by start offset with
// overlapping ranges merged. An empty result means no strategy matched any
// candidate; callers render the untouched text with a not-found notice.
func Locate(documentText string, citations []string, liveQuery string) []Range {
	docLower := strings.ToLower(documentText)

	var ranges []Range
	for _, citation := range citations {
		if s := locateOne(docLower, citation); s != nil {
			ranges = append(ranges, Range{Start: s.start, End: s.end})
		}
	}
	if liveQuery != "" {
		if s := locateOne(docLower, liveQuery); s != nil {
			ranges = append(ranges, Range{Start: s.start, End: s.end, IsLiveQuery: true})
		}
	}

	return mergeRanges(ranges)
}

func locateOne(docLower, candidate string) *span {
	candidate = trimEllipsis(candidate)
	if candidate == "" {
		return nil
	}
	for _, try := range strategies {
		if s := try(docLower, candidate); s != nil {
			return s
		}
	}
	return nil
}

// trimEllipsis strips a trailing ellipsis and surrounding whitespace, the
// usual artifact of truncated oracle citations.
func trimEllipsis(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(s, "..."), "…")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// exactMatch: case-insensitive exact substring search.
func exactMatch(docLower, candidate string) *span {
	idx := strings.Index(docLower, strings.ToLower(candidate))
	if idx < 0 {
		return nil
	}
	return &span{start: idx, end: idx + len(candidate)}
}

// prefixMatch searches on the candidate's first n bytes, applied only when
// the candidate is longer than n.
func prefixMatch(n int) strategy {
	return func(docLower, candidate string) *span {
		if len(candidate) <= n {
			return nil
		}
		return exactMatch(docLower, candidate[:n])
	}
}

// firstSentenceMatch searches on the candidate's first sentence when that
// clause is substantial enough to be distinctive.
func firstSentenceMatch(docLower, candidate string) *span {
	first := strings.FieldsFunc(candidate, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(first) == 0 {
		return nil
	}
	clause := strings.TrimSpace(first[0])
	if len(clause) <= 15 {
		return nil
	}
	return exactMatch(docLower, clause)
}

// longWordStopwords are common long words that make poor anchors.
var longWordStopwords = map[string]bool{
	"accordingly":     true,
	"additionally":    true,
	"agreement":       true,
	"approximately":   true,
	"consideration":   true,
	"furthermore":     true,
	"information":     true,
	"nevertheless":    true,
	"notwithstanding": true,
	"respectively":    true,
	"therefore":       true,
}

const (
	contextBefore = 30
	contextAfter  = 100
)

// longestWordMatch is the last resort: find the candidate's longest unique
// word (length > 10, not a stopword) in the document, then expand the hit to
// a context window instead of highlighting the bare word.
func longestWordMatch(docLower, candidate string) *span {
	var longest string
	for _, word := range strings.Fields(candidate) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) <= 10 {
			continue
		}
		if longWordStopwords[strings.ToLower(word)] {
			continue
		}
		if len(word) > len(longest) {
			longest = word
		}
	}
	if longest == "" {
		return nil
	}

	idx := strings.Index(docLower, strings.ToLower(longest))
	if idx < 0 {
		return nil
	}

	start := idx - contextBefore
	if start < 0 {
		start = 0
	}
	end := idx + len(longest) + contextAfter
	if end > len(docLower) {
		end = len(docLower)
	}
	return &span{start: start, end: end}
}

// mergeRanges sorts by start offset and folds overlapping ranges together.
// A merged range inherits IsLiveQuery from any of its members.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start != ranges[j].Start {
			return ranges[i].Start < ranges[j].Start
		}
		return ranges[i].End < ranges[j].End
	})

	merged := []Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			last.IsLiveQuery = last.IsLiveQuery || r.IsLiveQuery
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
