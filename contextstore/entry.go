// Package contextstore holds the business-context entries agents consult
// and record lessons into. Two implementations: an in-memory store and a
// one-file-per-entry markdown store.
package contextstore

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Category classifies a context entry.
type Category string

const (
	CategoryCustomerNote Category = "CustomerNote"
	CategoryMeetingNote  Category = "MeetingNote"
	CategoryDecision     Category = "Decision"
	CategoryLesson       Category = "Lesson"
	CategoryPreference   Category = "Preference"
	CategoryStrategic    Category = "Strategic"
	CategoryOperational  Category = "Operational"
)

// Entry is one recorded piece of business context.
type Entry struct {
	EntryID       string
	Content       string
	Category      Category
	Tags          []string
	ReferenceCode string
	CreatedAt     time.Time
}

// Query filters entries. Null or empty filters are ignored; set filters
// combine with AND. Results are ordered by CreatedAt descending and capped
// by MaxResults when positive.
type Query struct {
	// Keywords matches entries whose Content contains any of the
	// whitespace-separated keywords, case-insensitively.
	Keywords      string
	Category      Category
	Tags          []string
	ReferenceCode string
	MaxResults    int
}

// Store is the context store contract.
type Store interface {
	// Store saves the entry, overwriting any entry with the same ID.
	Store(ctx context.Context, entry Entry) error
	// Query returns matching entries, newest first.
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// matches applies the query's filters to one entry.
func (q Query) matches(e Entry) bool {
	if q.Keywords != "" && !matchKeywords(e.Content, q.Keywords) {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if len(q.Tags) > 0 && !anyOverlap(e.Tags, q.Tags) {
		return false
	}
	if q.ReferenceCode != "" && e.ReferenceCode != q.ReferenceCode {
		return false
	}
	return true
}

func matchKeywords(content, keywords string) bool {
	lower := strings.ToLower(content)
	for _, word := range strings.Fields(strings.ToLower(keywords)) {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func anyOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// finish orders and caps a result set.
func (q Query) finish(entries []Entry) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if q.MaxResults > 0 && len(entries) > q.MaxResults {
		entries = entries[:q.MaxResults]
	}
	return entries
}
