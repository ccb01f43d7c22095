// Package batch splits an ordered page list into the windows submitted to
// a transcription provider in one call each.
package batch

// Span is a half-open page range [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns the number of pages in the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Plan splits totalPages into ordered spans of at most batchSize pages.
// Consecutive spans share exactly one page (the last page of one span is
// the first page of the next) so entries that continue across a page
// boundary can be stitched back together. Size-1 batches never overlap:
// the overlap rule would advance zero pages per batch and loop forever.
// batchSize values below 1 are treated as 1.
func Plan(totalPages, batchSize int) []Span {
	if totalPages <= 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if totalPages <= batchSize {
		return []Span{{Start: 0, End: totalPages}}
	}

	if batchSize == 1 {
		spans := make([]Span, totalPages)
		for i := range spans {
			spans[i] = Span{Start: i, End: i + 1}
		}
		return spans
	}

	var spans []Span
	start := 0
	for start < totalPages {
		end := start + batchSize
		if end > totalPages {
			end = totalPages
		}
		spans = append(spans, Span{Start: start, End: end})
		if end == totalPages {
			break
		}
		start = end - 1
	}
	return spans
}
