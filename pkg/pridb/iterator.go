package pridb

import (
	"iter"
	"strconv"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// Query selects rows for the Iterate methods. Zero values select all.
type Query struct {
	// Channels filters hits and status rows. Parametric rows and markers
	// have no channel and ignore it.
	Channels []int
	SetIDs   []int64

	// TimeStart and TimeStop bound the time to [TimeStart, TimeStop) in
	// seconds.
	TimeStart *float64
	TimeStop  *float64
}

// Iterator streams rows of one set type in SetID order, which is time
// order. Rows are read in pages, so the store stays usable (and closable)
// while an iterator is open.
type Iterator[R any] struct {
	store   *Store
	from    string
	where   string
	args    []any
	params  map[int64]types.Parameter
	convert func(row map[string]any, params map[int64]types.Parameter) (R, error)

	page    []R
	pos     int
	last    int64
	started bool
	drained bool

	count int64
	rec   R
	err   error
	done  bool
}

const pageSize = 512

// IterateHits starts a pass over the hits matching q.
func (s *Store) IterateHits(q Query) *Iterator[HitRecord] {
	return newIterator(s, q, true, s.hit, SetTypeHit)
}

// IterateStatus starts a pass over the status rows matching q.
func (s *Store) IterateStatus(q Query) *Iterator[StatusRecord] {
	return newIterator(s, q, true, s.status, SetTypeStatus)
}

// IterateParametric starts a pass over the parametric rows matching q.
func (s *Store) IterateParametric(q Query) *Iterator[ParametricRecord] {
	return newIterator(s, q, false, s.parametric, SetTypeParametric)
}

// IterateMarkers starts a pass over the markers matching q.
func (s *Store) IterateMarkers(q Query) *Iterator[MarkerRecord] {
	convert := func(row map[string]any, _ map[int64]types.Parameter) (MarkerRecord, error) {
		return s.marker(row), nil
	}
	return newIterator(s, q, false, convert, SetTypeLabel, SetTypeDateTime, SetTypeSection)
}

func newIterator[R any](s *Store, q Query, byChannel bool,
	convert func(map[string]any, map[int64]types.Parameter) (R, error), setTypes ...SetType) *Iterator[R] {
	it := &Iterator[R]{store: s, convert: convert}

	table := database.QuoteIdent(s.db.TableMain())
	it.from = "SELECT * FROM " + table
	if setTypes[0].IsMarker() {
		it.from = "SELECT SetID, Time, SetType, Number, Data FROM " + table +
			" LEFT JOIN " + database.QuoteIdent(tableMarkers) + " USING (SetID)"
	} else {
		params, err := s.db.Parameters()
		if err != nil {
			return it.fail(err)
		}
		it.params = params
	}

	var c database.Conditions
	kinds := make([]any, len(setTypes))
	for i, t := range setTypes {
		kinds[i] = int(t)
	}
	c.In("SetType", kinds...)
	if byChannel {
		channels := make([]any, len(q.Channels))
		for i, ch := range q.Channels {
			channels[i] = ch
		}
		c.In("Chan", channels...)
	}
	ids := make([]any, len(q.SetIDs))
	for i, id := range q.SetIDs {
		ids[i] = id
	}
	c.In("SetID", ids...)
	if q.TimeStart != nil {
		c.Compare("Time", ">=", *q.TimeStart*s.timeBase)
	}
	if q.TimeStop != nil {
		c.Compare("Time", "<", *q.TimeStop*s.timeBase)
	}
	s.db.Observe(&c)
	it.where, it.args = c.Build()

	count, err := s.db.Count(it.from+" "+it.where, it.args...)
	if err != nil {
		return it.fail(err)
	}
	it.count = count
	return it
}

func (it *Iterator[R]) fail(err error) *Iterator[R] {
	it.err = err
	it.done = true
	return it
}

// fetch reads the next page. Rows are converted after they are closed, so
// parameter lookups never wait on the page query.
func (it *Iterator[R]) fetch() error {
	where, args := it.where, append([]any(nil), it.args...)
	if it.started {
		if where == "" {
			where = "WHERE SetID > ?"
		} else {
			where += " AND SetID > ?"
		}
		args = append(args, it.last)
	}
	rows, err := it.store.db.Query(it.from+" "+where+" ORDER BY SetID LIMIT "+strconv.Itoa(pageSize), args...)
	if err != nil {
		return err
	}
	var raw []map[string]any
	err = database.ScanMaps(rows, func(row map[string]any) error {
		raw = append(raw, row)
		return nil
	})
	rows.Close()
	if err != nil {
		return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to read rows", err).
			WithDetails(map[string]interface{}{"file": it.store.db.Path(), "table": it.store.db.TableMain()})
	}

	it.page = it.page[:0]
	it.pos = 0
	it.drained = len(raw) < pageSize
	for _, row := range raw {
		rec, err := it.convert(row, it.params)
		if err != nil {
			return err
		}
		it.page = append(it.page, rec)
	}
	if n := len(raw); n > 0 {
		it.last, _ = database.AsInt64(raw[n-1]["SetID"])
	}
	return nil
}

// Next advances to the next row. It returns false at the end, on error or
// once the store is closed.
func (it *Iterator[R]) Next() bool {
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
		it.started = true
		if len(it.page) == 0 {
			it.Close()
			return false
		}
	}
	it.rec = it.page[it.pos]
	it.pos++
	return true
}

// Record returns the current row.
func (it *Iterator[R]) Record() R { return it.rec }

// Err returns the first error of the pass.
func (it *Iterator[R]) Err() error { return it.err }

// Len returns the number of rows the pass yields.
func (it *Iterator[R]) Len() int64 { return it.count }

// Close ends the pass. It is safe to call more than once.
func (it *Iterator[R]) Close() error {
	it.done = true
	it.page = nil
	return nil
}

// All returns the remaining rows as a sequence and closes the iterator when
// the loop ends. An error is yielded once as the last element.
func (it *Iterator[R]) All() iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Record(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero R
			yield(zero, err)
		}
	}
}

// Collect reads the remaining rows into a slice.
func (it *Iterator[R]) Collect() ([]R, error) {
	defer it.Close()
	out := make([]R, 0, it.count)
	for it.Next() {
		out = append(out, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
