package tradb

import (
	"iter"
	"strconv"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// Query selects records for Iterate and ReadAll. Zero values select all.
type Query struct {
	Channels []int
	TRAI     []int64

	// TimeStart and TimeStop bound the record time to [TimeStart, TimeStop)
	// in seconds. They are resolved to SetID bounds by binary search, which
	// assumes Time increases with SetID.
	TimeStart *float64
	TimeStop  *float64

	// Filter is an SQL expression on tr_data columns, e.g. "Samples > 1024".
	// It is inserted into the query verbatim and must never come from
	// untrusted input.
	Filter string
}

// Iterator streams records ordered by TRAI, then SetID. Records without a
// TRAI come last. Samples are not decoded.
//
// Records are read in pages and the connection is released between pages,
// so other store methods (including Write and Close) may be called while an
// iterator is open. Records written during a pass show up if they sort after
// the current position; Len is not updated for them.
//
//	it := store.Iterate(tradb.Query{Channels: []int{1}})
//	defer it.Close()
//	for it.Next() {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	store  *Store
	where  string
	args   []any
	order  iterOrder
	params map[int64]types.Parameter

	page    []Record
	pos     int
	last    Record
	started bool
	drained bool

	count int64
	rec   Record
	err   error
	done  bool
}

// iterOrder selects the sort key of a pass.
type iterOrder int

const (
	orderTRAI  iterOrder = iota // TRAI, SetID; NULL TRAI last
	orderSetID                  // SetID, which follows Time
)

// pageSize is the number of records read per query.
const pageSize = 512

// Iterate starts a new pass over the records matching q. Errors are
// reported by Err.
func (s *Store) Iterate(q Query) *Iterator {
	return s.iterate(q, orderTRAI)
}

func (s *Store) iterate(q Query, order iterOrder) *Iterator {
	it := &Iterator{store: s, order: order}

	params, err := s.db.Parameters()
	if err != nil {
		return it.fail(err)
	}
	it.params = params

	where, args, empty, err := s.conditions(q)
	if err != nil {
		return it.fail(err)
	}
	if empty {
		it.done = true
		return it
	}
	it.where, it.args = where, args

	count, err := s.db.Count("SELECT SetID FROM "+database.QuoteIdent(s.db.TableMain())+" "+where, args...)
	if err != nil {
		return it.fail(err)
	}
	it.count = count
	return it
}

// resume returns the keyset condition selecting the rows after the last
// returned record, and the ORDER BY clause of the pass.
func (it *Iterator) resume() (cond string, args []any, orderBy string) {
	if it.order == orderSetID {
		orderBy = "ORDER BY SetID"
		if it.started {
			return "SetID > ?", []any{it.last.SetID}, orderBy
		}
		return "", nil, orderBy
	}
	orderBy = "ORDER BY TRAI IS NULL, TRAI, SetID"
	switch {
	case !it.started:
		return "", nil, orderBy
	case it.last.TRAI == 0:
		return "(TRAI IS NULL AND SetID > ?)", []any{it.last.SetID}, orderBy
	default:
		return "(TRAI IS NULL OR TRAI > ? OR (TRAI = ? AND SetID > ?))",
			[]any{it.last.TRAI, it.last.TRAI, it.last.SetID}, orderBy
	}
}

// fetch reads the next page. The rows are closed before it returns.
func (it *Iterator) fetch() error {
	cond, condArgs, orderBy := it.resume()
	where := it.where
	if cond != "" {
		if where == "" {
			where = "WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	args := append(append([]any(nil), it.args...), condArgs...)
	query := "SELECT " + recordColumns + " FROM " + database.QuoteIdent(it.store.db.TableMain()) +
		" " + where + " " + orderBy + " LIMIT " + strconv.Itoa(pageSize)

	rows, err := it.store.db.Query(query, args...)
	if err != nil {
		return err
	}
	var raw []recordRow
	for rows.Next() {
		var r recordRow
		if err := rows.Scan(r.dest()...); err != nil {
			rows.Close()
			return it.storageError("failed to scan record", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return it.storageError("failed to read records", err)
	}
	if err := rows.Close(); err != nil {
		return it.storageError("failed to read records", err)
	}

	it.page = it.page[:0]
	it.pos = 0
	it.drained = len(raw) < pageSize
	for i := range raw {
		rec, err := it.store.record(&raw[i], it.params)
		if err != nil {
			return err
		}
		it.page = append(it.page, rec)
	}
	return nil
}

// conditions builds the WHERE clause of q. empty is true when the time
// bounds exclude every record.
func (s *Store) conditions(q Query) (where string, args []any, empty bool, err error) {
	var c database.Conditions

	channels := make([]any, len(q.Channels))
	for i, ch := range q.Channels {
		channels[i] = ch
	}
	c.In("Chan", channels...)

	trais := make([]any, len(q.TRAI))
	for i, trai := range q.TRAI {
		trais[i] = trai
	}
	c.In("TRAI", trais...)

	table := s.db.TableMain()
	if q.TimeStart != nil {
		setID, found, err := s.db.SearchSorted(table, "Time", "SetID", *q.TimeStart*s.timeBase)
		if err != nil {
			return "", nil, false, err
		}
		if !found {
			return "", nil, true, nil
		}
		c.Compare("SetID", ">=", setID)
	}
	if q.TimeStop != nil {
		setID, found, err := s.db.SearchSorted(table, "Time", "SetID", *q.TimeStop*s.timeBase)
		if err != nil {
			return "", nil, false, err
		}
		if found {
			c.Compare("SetID", "<", setID)
		}
	}
	c.Raw(q.Filter)

	s.db.Observe(&c)
	where, args = c.Build()
	return where, args, false, nil
}

func (it *Iterator) storageError(message string, err error) error {
	return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, message, err).
		WithDetails(map[string]interface{}{"file": it.store.db.Path(), "table": it.store.db.TableMain()})
}

func (it *Iterator) fail(err error) *Iterator {
	it.err = err
	it.done = true
	return it
}

// Next advances to the next record. It returns false at the end, on error
// or once the store is closed.
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
	it.last = it.rec
	it.started = true
	return true
}

// Record returns the current record.
func (it *Iterator) Record() Record { return it.rec }

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

// All returns the remaining records as a sequence. The iterator is closed
// when the loop ends; an error is yielded once as the last element.
func (it *Iterator) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Record(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Record{}, err)
		}
	}
}
