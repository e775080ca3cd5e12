package database

import (
	"database/sql"
	"errors"
	"log"
	"sort"
	"strings"

	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
	"github.com/mattn/go-sqlite3"
)

// FieldInfo reads the field info table, keyed by data-table column name.
func (d *Database) FieldInfo() (map[string]types.FieldInfo, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT * FROM " + QuoteIdent(d.tableFieldInfo))
	if err != nil {
		return nil, queryError("failed to read field info", err, d.path)
	}
	defer rows.Close()

	result := make(map[string]types.FieldInfo)
	err = ScanMaps(rows, func(row map[string]any) error {
		field := AsString(row["field"])
		delete(row, "field")
		info := make(types.FieldInfo, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			info[k] = v
		}
		result[field] = info
		return nil
	})
	if err != nil {
		return nil, queryError("failed to read field info", err, d.path)
	}
	return result, nil
}

// WriteFieldInfo inserts or updates the field info row of a data-table column.
// Properties without a matching fieldinfo column are added to the schema and
// the write is retried once.
func (d *Database) WriteFieldInfo(field string, info types.FieldInfo) error {
	if err := d.requireWrite("WriteFieldInfo"); err != nil {
		return err
	}
	columns, err := d.Columns()
	if err != nil {
		return err
	}
	if !containsFold(columns, field) {
		return aeerrors.NewSchemaError(aeerrors.CodeFieldNotFound, "field must be a column of the data table").
			WithDetails(map[string]interface{}{"file": d.path, "table": d.tableMain, "field": field})
	}

	row := make(Row, len(info)+1)
	for k, v := range info {
		row[k] = v
	}
	row["field"] = field

	err = d.upsertFieldInfo(field, row)
	if err == nil || !IsMissingColumn(err) {
		return err
	}

	log.Printf("database: session %s extending %s for field %q", d.session, d.tableFieldInfo, field)
	if err := d.AddColumns(d.tableFieldInfo, row.Columns(), ""); err != nil {
		return err
	}
	return d.upsertFieldInfo(field, row)
}

func (d *Database) upsertFieldInfo(field string, row Row) error {
	existing, err := d.FieldInfo()
	if err != nil {
		return err
	}
	if _, ok := existing[field]; ok {
		return d.Update(d.tableFieldInfo, row, "field")
	}
	_, err = d.Insert(d.tableFieldInfo, row)
	return err
}

// GlobalInfo reads the global info table. Values are decoded as integer,
// float or string; undecodable values keep their raw text.
func (d *Database) GlobalInfo() (map[string]types.GlobalValue, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT Key, Value FROM " + QuoteIdent(d.tableGlobalInfo))
	if err != nil {
		return nil, queryError("failed to read global info", err, d.path)
	}
	defer rows.Close()

	info := make(map[string]types.GlobalValue)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, queryError("failed to scan global info", err, d.path)
		}
		info[key] = types.ParseGlobalValue(value.String)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("failed to read global info", err, d.path)
	}
	return info, nil
}

// updateGlobalInfo refreshes the ValidSets and TRAI summaries from the data
// table. Keys missing from the global info table are left alone.
func (d *Database) updateGlobalInfo() error {
	if err := d.requireWrite("updateGlobalInfo"); err != nil {
		return err
	}
	info, err := d.GlobalInfo()
	if err != nil {
		return err
	}
	db, err := d.conn()
	if err != nil {
		return err
	}

	updates := map[string]string{
		"ValidSets": "SELECT COALESCE(MAX(rowid), 0) FROM " + QuoteIdent(d.tableMain),
		"TRAI":      "SELECT COALESCE(MAX(TRAI), 0) FROM " + QuoteIdent(d.tableMain),
	}
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, ok := info[key]; !ok {
			continue
		}
		stmt := "UPDATE " + QuoteIdent(d.tableGlobalInfo) + " SET Value = (" + updates[key] + ") WHERE Key = ?"
		if _, err := db.Exec(stmt, key); err != nil {
			return queryError("failed to update global info", err, d.path).
				WithDetails(map[string]interface{}{"file": d.path, "table": d.tableGlobalInfo, "key": key})
		}
	}
	log.Printf("database: session %s refreshed global info of %s", d.session, d.path)
	return nil
}

// WriteParameter inserts or replaces a row of the parameter table and drops
// the session's parameter cache. Maps already returned by Parameters stay
// unchanged.
func (d *Database) WriteParameter(p types.Parameter) error {
	if err := d.requireWrite("WriteParameter"); err != nil {
		return err
	}
	row := make(Row, len(p.Values)+1)
	for k, v := range p.Values {
		row[k] = v
	}
	row["ID"] = p.ID
	row = row.withoutNil()
	columns := row.Columns()
	args := make([]any, len(columns))
	for i, c := range columns {
		args[i] = row[c]
	}
	query := strings.Replace(InsertQuery(d.tableParams, columns), "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	db, err := d.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(query, args...); err != nil {
		return queryError("failed to write parameter", err, d.path).
			WithDetails(map[string]interface{}{"file": d.path, "table": d.tableParams, "id": p.ID})
	}

	d.mu.Lock()
	d.params = paramCache{}
	d.mu.Unlock()
	return nil
}

// Parameter returns one parameter row. The parameter table is read on first
// use and cached for the rest of the session.
func (d *Database) Parameter(id int64) (types.Parameter, error) {
	params, err := d.Parameters()
	if err != nil {
		return types.Parameter{}, err
	}
	p, ok := params[id]
	if !ok {
		return types.Parameter{}, aeerrors.NewLookupError(aeerrors.CodeParameterNotFound, "parameter ID not found").
			WithDetails(map[string]interface{}{"file": d.path, "table": d.tableParams, "id": id})
	}
	return p, nil
}

// Parameters returns the cached parameter table keyed by ID.
// The returned map must not be modified.
func (d *Database) Parameters() (map[int64]types.Parameter, error) {
	d.mu.Lock()
	if d.params.loaded {
		params := d.params.byID
		d.mu.Unlock()
		return params, nil
	}
	d.mu.Unlock()

	params, err := d.loadParameters()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, aeerrors.NewAccessError(aeerrors.CodeNotConnected, "not connected to database").
			WithDetails(map[string]interface{}{"file": d.path})
	}
	if !d.params.loaded {
		d.params = paramCache{loaded: true, byID: params}
	}
	return d.params.byID, nil
}

func (d *Database) loadParameters() (map[int64]types.Parameter, error) {
	tables, err := d.Tables()
	if err != nil {
		return nil, err
	}
	if _, ok := tables[d.tableParams]; !ok {
		return nil, aeerrors.NewSchemaError(aeerrors.CodeMissingRequiredTable, "parameter table not found in database").
			WithDetails(map[string]interface{}{"file": d.path, "table": d.tableParams})
	}

	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT * FROM " + QuoteIdent(d.tableParams))
	if err != nil {
		return nil, queryError("failed to read parameters", err, d.path)
	}
	defer rows.Close()

	params := make(map[int64]types.Parameter)
	err = ScanMaps(rows, func(row map[string]any) error {
		id, ok := AsInt64(row["ID"])
		if !ok {
			return nil
		}
		delete(row, "ID")
		params[id] = types.Parameter{ID: id, Values: row}
		return nil
	})
	if err != nil {
		return nil, queryError("failed to read parameters", err, d.path)
	}
	return params, nil
}

// IsMissingColumn reports whether err is SQLite complaining about an unknown column.
func IsMissingColumn(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrError {
		return false
	}
	msg := sqliteErr.Error()
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "has no column named")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
