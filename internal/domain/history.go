package domain

import (
	"sort"
	"time"
)

// HistoryEntry summary of one committed reconciliation cycle.
type HistoryEntry struct {
	ID                string         `json:"id"`
	Timestamp         time.Time      `json:"ts"`
	SourceSummary     map[Source]int `json:"sources"`
	TotalRatesWritten int            `json:"total_rates_written"`
	FailedSources     []Source       `json:"failed_sources,omitempty"`
}

// RefreshSummary per-cycle statistics handed to the cache store on commit.
type RefreshSummary struct {
	SourceSummary     map[Source]int
	TotalRatesWritten int
	FailedSources     []Source
}

// NewHistoryEntry creates a history entry for a commit.
func NewHistoryEntry(id string, ts time.Time, summary RefreshSummary) HistoryEntry {
	counts := make(map[Source]int, len(summary.SourceSummary))
	for s, n := range summary.SourceSummary {
		counts[s] = n
	}
	failed := append([]Source(nil), summary.FailedSources...)
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })

	return HistoryEntry{
		ID:                id,
		Timestamp:         ts.UTC(),
		SourceSummary:     counts,
		TotalRatesWritten: summary.TotalRatesWritten,
		FailedSources:     failed,
	}
}

// HistoryRecord bundles an entry with its log index.
type HistoryRecord struct {
	Index uint64
	Entry HistoryEntry
}
