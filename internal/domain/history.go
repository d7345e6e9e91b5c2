package domain

import (
	"encoding/json"
	"time"
)

// HistoryEntry is one immutable line in an application's audit trail.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	User       string    `json:"user"`
	Role       Role      `json:"role"`
	Action     Action    `json:"action"`
	Comment    string    `json:"comment"`
	PrevStatus Status    `json:"prev_status"`
	NextStatus Status    `json:"next_status"`
	Stage      int       `json:"stage"`
	StepIndex  int       `json:"step_index"`
}

type historyNode struct {
	entry HistoryEntry
	next  *historyNode
}

// History is a persistent newest-first list of entries.
// Prepend shares the existing nodes, so older History values never change.
// The zero value is an empty history.
type History struct {
	head *historyNode
	size int
}

// NewHistory builds a History from entries ordered newest first.
func NewHistory(newestFirst ...HistoryEntry) History {
	var h History
	for i := len(newestFirst) - 1; i >= 0; i-- {
		h = h.Prepend(newestFirst[i])
	}
	return h
}

// Prepend returns a new History with e as the newest entry.
func (h History) Prepend(e HistoryEntry) History {
	return History{head: &historyNode{entry: e, next: h.head}, size: h.size + 1}
}

// Len returns the number of entries.
func (h History) Len() int { return h.size }

// Latest returns the newest entry.
func (h History) Latest() (HistoryEntry, bool) {
	if h.head == nil {
		return HistoryEntry{}, false
	}
	return h.head.entry, true
}

// Entries returns a newest-first copy of all entries.
func (h History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.size)
	for n := h.head; n != nil; n = n.next {
		out = append(out, n.entry)
	}
	return out
}

// MarshalJSON encodes the history as a newest-first array.
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Entries())
}

// UnmarshalJSON decodes a newest-first array.
func (h *History) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*h = NewHistory(entries...)
	return nil
}
