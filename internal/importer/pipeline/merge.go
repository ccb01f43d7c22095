package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// matchPrefixLen is how much normalized text must agree before two entries
// on the same page count as the same entry.
const matchPrefixLen = 24

// Matcher decides whether two entries recognized on the same overlap page
// are the same underlying logbook entry. The rule is deliberately
// pluggable; DefaultMatcher is the locked-down default.
type Matcher func(a, b domain.LogEntry) bool

// DefaultMatcher matches on date, hours (within 0.05 when both are
// recorded), and agreement of the first normalized text characters.
func DefaultMatcher(a, b domain.LogEntry) bool {
	if a.Date != "" && b.Date != "" && a.Date != b.Date {
		return false
	}
	if a.Hours > 0 && b.Hours > 0 && math.Abs(a.Hours-b.Hours) > 0.05 {
		return false
	}

	na := normalizeText(a.Text)
	nb := normalizeText(b.Text)
	if na == "" || nb == "" {
		return na == nb
	}
	n := matchPrefixLen
	if len(na) < n {
		n = len(na)
	}
	if len(nb) < n {
		n = len(nb)
	}
	return na[:n] == nb[:n]
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ambiguity records an overlap-page candidate that matched none of the
// entries the previous batch confirmed on that page. Both sides survive
// into the result for manual review.
type ambiguity struct {
	Existing  domain.LogEntry
	Candidate domain.LogEntry
}

// merger accumulates the deduplicated cross-batch result.
type merger struct {
	match   Matcher
	entries []domain.LogEntry
}

func newMerger(match Matcher) *merger {
	if match == nil {
		match = DefaultMatcher
	}
	return &merger{match: match}
}

// merge folds one batch's entries (already rebased to global page indexes)
// into the accumulator. overlapPage is the page shared with the previous
// batch; hasOverlap is false for the first batch and for size-1 plans.
// It returns the newly confirmed entries, in input order, and any overlap
// ambiguities.
func (m *merger) merge(entries []domain.LogEntry, overlapPage int, hasOverlap bool) ([]domain.LogEntry, []ambiguity) {
	var added []domain.LogEntry
	var ambiguities []ambiguity

	// Snapshot what the previous batch recorded on the shared page before
	// this batch adds anything to it.
	var prior []int
	if hasOverlap {
		prior = m.indexesOnPage(overlapPage)
	}

	for _, entry := range entries {
		if !hasOverlap || entry.Page != overlapPage {
			m.entries = append(m.entries, entry)
			added = append(added, entry)
			continue
		}

		matched := false
		for _, idx := range prior {
			if m.match(m.entries[idx], entry) {
				if moreComplete(entry, m.entries[idx]) {
					m.entries[idx] = entry
				}
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		if len(prior) > 0 {
			// Divergent reading of a page both batches saw. Keep both
			// candidates rather than silently dropping one.
			ambiguities = append(ambiguities, ambiguity{
				Existing:  m.entries[prior[0]],
				Candidate: entry,
			})
		}
		m.entries = append(m.entries, entry)
		added = append(added, entry)
	}

	return added, ambiguities
}

// entriesOnPage returns copies of the accumulated entries recognized on
// one page, used as the trailing context for the next batch.
func (m *merger) entriesOnPage(page int) []domain.LogEntry {
	var out []domain.LogEntry
	for _, entry := range m.entries {
		if entry.Page == page {
			out = append(out, entry)
		}
	}
	return out
}

func (m *merger) indexesOnPage(page int) []int {
	var out []int
	for i, entry := range m.entries {
		if entry.Page == page {
			out = append(out, i)
		}
	}
	return out
}

// result returns the accumulated entries in page order.
func (m *merger) result() []domain.LogEntry {
	out := make([]domain.LogEntry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// moreComplete reports whether a carries more information than b.
func moreComplete(a, b domain.LogEntry) bool {
	return completeness(a) > completeness(b)
}

func completeness(e domain.LogEntry) int {
	score := len(normalizeText(e.Text))
	if e.Date != "" {
		score += 16
	}
	if e.Hours > 0 {
		score += 16
	}
	return score
}
