package trfdb

import (
	"iter"
	"strconv"
	"strings"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
)

// Iterator streams feature records in TRAI order. NULL features are left
// out of FeatureRecord.Features. Records are read in pages and the
// connection is released between pages, so the store stays usable (and
// closable) while an iterator is open.
type Iterator struct {
	store *Store
	where string
	args  []any

	page    []FeatureRecord
	pos     int
	last    int64
	started bool
	drained bool

	count int64
	rec   FeatureRecord
	err   error
	done  bool
}

const pageSize = 512

// Iterate starts a pass over the records with the given TRAI values, or all
// records when none are given.
func (s *Store) Iterate(trai ...int64) *Iterator {
	it := &Iterator{store: s}

	var c database.Conditions
	values := make([]any, len(trai))
	for i, v := range trai {
		values[i] = v
	}
	c.In("TRAI", values...)
	s.db.Observe(&c)
	it.where, it.args = c.Build()

	count, err := s.db.Count("SELECT TRAI FROM "+database.QuoteIdent(s.db.TableMain())+" "+it.where, it.args...)
	if err != nil {
		return it.fail(err)
	}
	it.count = count
	return it
}

func (it *Iterator) fail(err error) *Iterator {
	it.err = err
	it.done = true
	return it
}

func (it *Iterator) storageError(message string, err error) error {
	return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, message, err).
		WithDetails(map[string]interface{}{"file": it.store.db.Path(), "table": it.store.db.TableMain()})
}

// fetch reads the next page. TRAI is the primary key, so the last returned
// TRAI is a complete cursor.
func (it *Iterator) fetch() error {
	where, args := it.where, append([]any(nil), it.args...)
	if it.started {
		if where == "" {
			where = "WHERE TRAI > ?"
		} else {
			where += " AND TRAI > ?"
		}
		args = append(args, it.last)
	}
	rows, err := it.store.db.Query("SELECT * FROM "+database.QuoteIdent(it.store.db.TableMain())+
		" "+where+" ORDER BY TRAI LIMIT "+strconv.Itoa(pageSize), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return it.storageError("failed to read columns", err)
	}

	it.page = it.page[:0]
	it.pos = 0
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return it.storageError("failed to scan features", err)
		}
		rec := FeatureRecord{Features: make(map[string]float64, len(columns)-1)}
		for i, c := range columns {
			if strings.EqualFold(c, "TRAI") {
				rec.TRAI, _ = database.AsInt64(values[i])
				continue
			}
			if v, ok := database.AsFloat64(values[i]); ok {
				rec.Features[c] = v
			}
		}
		it.page = append(it.page, rec)
	}
	if err := rows.Err(); err != nil {
		return it.storageError("failed to read features", err)
	}
	it.drained = len(it.page) < pageSize
	return nil
}

// Next advances to the next record. It stops once the store is closed.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.store.db.RequireConnected(); err != nil {
		it.err = err
		it.Close()
		return false
	}
	if it.pos >= len(it.page) {
		if it.started && it.drained {
			it.Close()
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			it.Close()
			return false
		}
		if len(it.page) == 0 {
			it.Close()
			return false
		}
	}
	it.rec = it.page[it.pos]
	it.pos++
	it.last = it.rec.TRAI
	it.started = true
	return true
}

// Record returns the current record.
func (it *Iterator) Record() FeatureRecord { return it.rec }

// Err returns the first error of the pass.
func (it *Iterator) Err() error { return it.err }

// Len returns the number of records the pass yields.
func (it *Iterator) Len() int64 { return it.count }

// Close ends the pass. It is safe to call more than once.
func (it *Iterator) Close() error {
	it.done = true
	it.page = nil
	return nil
}

// All returns the remaining records as a sequence and closes the iterator
// when the loop ends.
func (it *Iterator) All() iter.Seq2[FeatureRecord, error] {
	return func(yield func(FeatureRecord, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Record(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(FeatureRecord{}, err)
		}
	}
}

// ReadAll returns the records with the given TRAI values, or all records,
// keyed by TRAI.
func (s *Store) ReadAll(trai ...int64) (map[int64]map[string]float64, error) {
	it := s.Iterate(trai...)
	defer it.Close()

	out := make(map[int64]map[string]float64, it.Len())
	for it.Next() {
		rec := it.Record()
		out[rec.TRAI] = rec.Features
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
