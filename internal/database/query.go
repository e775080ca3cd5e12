package database

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/aewave/aewave/internal/observability"
)

// Row maps column names to values for inserts and updates. Nil values are
// skipped so the column keeps its default.
type Row map[string]any

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (r Row) withoutNil() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// QuoteIdent quotes an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// InsertQuery builds "INSERT INTO t (a, b) VALUES (?, ?)" for the given columns.
func InsertQuery(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)
}

// UpdateQuery builds "UPDATE t SET a = ?, b = ? WHERE key = ?". The key column
// must be part of columns and is moved to the WHERE clause.
func UpdateQuery(table string, columns []string, key string) (string, error) {
	var set []string
	found := false
	for _, c := range columns {
		if c == key {
			found = true
			continue
		}
		set = append(set, QuoteIdent(c)+" = ?")
	}
	if !found {
		return "", fmt.Errorf("key column %q must be part of the row", key)
	}
	if len(set) == 0 {
		return "", fmt.Errorf("row has no columns to update besides %q", key)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		QuoteIdent(table), strings.Join(set, ", "), QuoteIdent(key)), nil
}

// InsertInto inserts a row using e and returns the new rowid.
func InsertInto(e Execer, table string, row Row) (int64, error) {
	row = row.withoutNil()
	columns := row.Columns()
	args := make([]any, len(columns))
	for i, c := range columns {
		args[i] = row[c]
	}
	res, err := e.Exec(InsertQuery(table, columns), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Insert inserts a row into a table of the session and returns its rowid.
func (d *Database) Insert(table string, row Row) (int64, error) {
	if err := d.requireWrite("Insert"); err != nil {
		return 0, err
	}
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	id, err := InsertInto(db, table, row)
	if err != nil {
		return 0, queryError("failed to insert row", err, d.path).
			WithDetails(map[string]interface{}{"file": d.path, "table": table})
	}
	return id, nil
}

// Update updates the rows whose key column equals row[key].
func (d *Database) Update(table string, row Row, key string) error {
	if err := d.requireWrite("Update"); err != nil {
		return err
	}
	row = row.withoutNil()
	columns := row.Columns()
	query, err := UpdateQuery(table, columns, key)
	if err != nil {
		return queryError("failed to build update", err, d.path)
	}
	args := make([]any, 0, len(columns))
	for _, c := range columns {
		if c != key {
			args = append(args, row[c])
		}
	}
	args = append(args, row[key])

	db, err := d.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(query, args...); err != nil {
		return queryError("failed to update row", err, d.path).
			WithDetails(map[string]interface{}{"file": d.path, "table": table, "key": key})
	}
	return nil
}

// WithTx runs fn in one transaction on the write connection, committing when
// fn returns nil and rolling back otherwise.
func (d *Database) WithTx(op string, fn func(tx *sql.Tx) error) error {
	if err := d.requireWrite(op); err != nil {
		return err
	}
	db, err := d.conn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return queryError("failed to begin transaction", err, d.path)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return queryError("failed to commit transaction", err, d.path)
	}
	return nil
}

// Query runs a SELECT on the session. The caller closes the rows.
func (d *Database) Query(query string, args ...any) (*sql.Rows, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, queryError("query failed", err, d.path)
	}
	return rows, nil
}

// QueryRow runs a single-row SELECT and scans the result into dest.
func (d *Database) QueryRow(query string, args []any, dest ...any) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	if err := db.QueryRow(query, args...).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return queryError("query failed", err, d.path)
	}
	return nil
}

// Count returns the number of rows a SELECT query yields.
func (d *Database) Count(query string, args ...any) (int64, error) {
	var n int64
	if err := d.QueryRow("SELECT COUNT(*) FROM ("+query+")", args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ScanMaps calls fn with every row as a column -> value map.
func ScanMaps(rows *sql.Rows, fn func(map[string]any) error) error {
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AsInt64 converts an SQLite value to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsFloat64 converts an SQLite value to float64.
func AsFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// AsString converts an SQLite value to string. NULL becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// Conditions collects the terms of a WHERE clause. Values are bound as
// parameters; Raw fragments are inserted verbatim.
type Conditions struct {
	terms      []string
	args       []any
	predicates [][2]string // column, operator
}

// In adds "column IN (...)". An empty list adds nothing.
func (c *Conditions) In(column string, values ...any) *Conditions {
	if len(values) == 0 {
		return c
	}
	c.terms = append(c.terms, fmt.Sprintf("%s IN (%s)", column, strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")))
	c.args = append(c.args, values...)
	c.predicates = append(c.predicates, [2]string{column, "IN"})
	return c
}

// Compare adds "column op ?". op is one of =, <, <=, >, >=.
func (c *Conditions) Compare(column, op string, value any) *Conditions {
	c.terms = append(c.terms, fmt.Sprintf("%s %s ?", column, op))
	c.args = append(c.args, value)
	c.predicates = append(c.predicates, [2]string{column, op})
	return c
}

// Raw adds a caller-supplied expression wrapped in parentheses. The text is
// not sanitized and must never come from untrusted input.
func (c *Conditions) Raw(expr string) *Conditions {
	if strings.TrimSpace(expr) == "" {
		return c
	}
	c.terms = append(c.terms, "("+expr+")")
	c.predicates = append(c.predicates, [2]string{"", "RAW"})
	return c
}

// Observe counts the predicates of c in the session's query statistics.
// Raw expressions are counted under the column name "filter".
func (d *Database) Observe(c *Conditions) {
	for _, p := range c.predicates {
		column := p[0]
		if column == "" {
			column = "filter"
		}
		d.stats.RecordPredicate(column, p[1])
	}
}

// QueryStats returns the predicate statistics of the session.
func (d *Database) QueryStats() *observability.QueryStats { return d.stats }

// Build returns the WHERE clause (empty when there are no terms) and its arguments.
func (c *Conditions) Build() (string, []any) {
	if len(c.terms) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(c.terms, " AND "), c.args
}

// SearchSorted returns the smallest index whose value is >= target, for a
// table where value is non-decreasing in index order (e.g. Time over SetID).
// It probes O(log n) rows instead of scanning the unindexed value column.
// found is false when every value is below target.
func (d *Database) SearchSorted(table, valueColumn, indexColumn string, target float64) (index int64, found bool, err error) {
	var lo, hi sql.NullInt64
	err = d.QueryRow(
		fmt.Sprintf("SELECT MIN(%[1]s), MAX(%[1]s) FROM %[2]s", QuoteIdent(indexColumn), QuoteIdent(table)),
		nil, &lo, &hi,
	)
	if err != nil || !lo.Valid {
		return 0, false, err
	}

	probe := fmt.Sprintf("SELECT %[1]s, %[2]s FROM %[3]s WHERE %[1]s >= ? AND %[1]s <= ? ORDER BY %[1]s LIMIT 1",
		QuoteIdent(indexColumn), QuoteIdent(valueColumn), QuoteIdent(table))

	low, high := lo.Int64, hi.Int64
	for low <= high {
		mid := low + (high-low)/2
		var idx int64
		var value sql.NullFloat64
		err := d.QueryRow(probe, []any{mid, high}, &idx, &value)
		if err == sql.ErrNoRows {
			high = mid - 1
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if value.Valid && value.Float64 >= target {
			index, found = idx, true
			high = mid - 1
		} else {
			low = idx + 1
		}
	}
	return index, found, nil
}
