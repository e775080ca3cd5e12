// Package observability counts the query predicates used on a database session.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks how often each column is filtered on. It hints at
// which columns of a file would benefit from an index.
type QueryStats struct {
	mu     sync.RWMutex
	freq   map[string]*ColumnStats
	window time.Duration
}

// ColumnStats holds the statistics of one column.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator -> count, e.g. "IN" -> 2
}

// NewQueryStats creates a tracker. Entries not seen within window are
// dropped by Prune; a window <= 0 keeps everything.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		freq:   make(map[string]*ColumnStats),
		window: window,
	}
}

// RecordPredicate counts one use of column with operator.
func (q *QueryStats) RecordPredicate(column, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, ok := q.freq[column]
	if !ok {
		stats = &ColumnStats{Column: column, Operators: make(map[string]int)}
		q.freq[column] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// Top returns copies of the n most used columns, by frequency and then name.
func (q *QueryStats) Top(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.freq) == 0 {
		return []ColumnStats{}
	}
	stats := make([]ColumnStats, 0, len(q.freq))
	for _, s := range q.freq {
		cp := *s
		cp.Operators = make(map[string]int, len(s.Operators))
		for op, count := range s.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes columns not seen within the window.
func (q *QueryStats) Prune() {
	if q.window <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for col, stats := range q.freq {
		if stats.LastSeen.Before(threshold) {
			delete(q.freq, col)
		}
	}
}

// Reset drops all entries.
func (q *QueryStats) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.freq = make(map[string]*ColumnStats)
}
