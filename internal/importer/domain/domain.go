package domain

// Page is one scanned logbook page image, in reading order.
type Page struct {
	Name        string
	ContentType string
	Data        []byte
}

// LogEntry is a single maintenance log entry extracted from a page.
type LogEntry struct {
	// Page is the zero-based index of the page the entry was recognized on.
	Page int `json:"page"`
	// Date is the entry date as written in the logbook, normalized to
	// YYYY-MM-DD when the provider can determine it.
	Date string `json:"date"`
	// Hours is the recorded tach/Hobbs time, zero when unreadable.
	Hours float64 `json:"hours,omitempty"`
	// Text is the transcribed entry body.
	Text string `json:"text"`
}

// Preview returns a shortened copy of the entry text for event payloads.
func (e LogEntry) Preview(maxLen int) string {
	runes := []rune(e.Text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return e.Text
	}
	return string(runes[:maxLen]) + "…"
}
