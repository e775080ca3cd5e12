// Package database implements the session layer shared by every waveform
// database kind (tradb, trfdb). A session owns one SQLite connection, enforces
// the access mode, validates the required tables and caches the parameter table.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/internal/observability"
	"github.com/aewave/aewave/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Options selects the table family and file naming rules of a session.
type Options struct {
	// TablePrefix names the table family, e.g. "tr" for tr_data, tr_fieldinfo, ...
	TablePrefix string

	// RequiredExtension is compared case-insensitively with the file suffix.
	// Empty disables the check. A leading dot is optional.
	RequiredExtension string
}

// Database is one session on a database file.
// Methods are safe for concurrent use; the parameter cache is per session and
// is never refreshed until the file is reopened.
type Database struct {
	path    string
	mode    types.Mode
	prefix  string
	session string

	tableMain       string
	tableFieldInfo  string
	tableGlobalInfo string
	tableParams     string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
	params paramCache
	stats  *observability.QueryStats
}

type paramCache struct {
	loaded bool
	byID   map[int64]types.Parameter
}

// Open opens a session on an existing database file.
// Mode, extension and required tables are validated before a Database is
// returned; on any failure the connection is released.
func Open(path string, mode types.Mode, opts Options) (*Database, error) {
	if _, err := types.ParseMode(string(mode)); err != nil {
		return nil, aeerrors.NewAccessError(aeerrors.CodeInvalidMode, "invalid access mode").
			WithDetails(map[string]interface{}{"mode": string(mode), "valid": types.ValidModes})
	}
	if mode == types.ModeReadWriteCreate {
		return nil, aeerrors.NewAccessError(aeerrors.CodeUnsupportedOperation, "database creation through open is not supported").
			WithDetails(map[string]interface{}{"mode": string(mode), "file": path})
	}
	if opts.RequiredExtension != "" {
		want := strings.TrimPrefix(opts.RequiredExtension, ".")
		got := strings.TrimPrefix(filepath.Ext(path), ".")
		if !strings.EqualFold(got, want) {
			return nil, aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "file extension must match").
				WithDetails(map[string]interface{}{"file": path, "extension": got, "required": want})
		}
	}

	db, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to open database", err).
			WithDetails(map[string]interface{}{"file": path})
	}
	if mode.ReadOnly() {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	} else {
		// The exclusive lock belongs to one connection; a second one would
		// block on its own session. Iterators read in pages and never hold
		// it while caller code runs.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to connect to database", err).
			WithDetails(map[string]interface{}{"file": path, "mode": string(mode)})
	}

	d := &Database{
		path:            path,
		mode:            mode,
		prefix:          opts.TablePrefix,
		session:         uuid.New().String()[:8],
		tableMain:       opts.TablePrefix + "_data",
		tableFieldInfo:  opts.TablePrefix + "_fieldinfo",
		tableGlobalInfo: opts.TablePrefix + "_globalinfo",
		tableParams:     opts.TablePrefix + "_params",
		db:              db,
		stats:           observability.NewQueryStats(0),
	}

	tables, err := d.Tables()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, table := range []string{d.tableMain, d.tableFieldInfo, d.tableGlobalInfo} {
		if _, ok := tables[table]; !ok {
			db.Close()
			return nil, aeerrors.NewSchemaError(aeerrors.CodeMissingRequiredTable, "required table not found in database").
				WithDetails(map[string]interface{}{"file": path, "table": table})
		}
	}

	log.Printf("database: session %s opened %s (mode=%s)", d.session, path, mode)
	return d, nil
}

// dsn builds the go-sqlite3 URI. Write sessions trade durability for
// throughput: WAL journal, exclusive locking and synchronous=OFF.
func dsn(path string, mode types.Mode) string {
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	params := "mode=" + string(mode)
	if !mode.ReadOnly() {
		params += "&_journal_mode=WAL&_locking_mode=EXCLUSIVE&_sync=OFF"
	}
	return "file:" + escaped + "?" + params
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Mode returns the access mode of the session.
func (d *Database) Mode() types.Mode { return d.mode }

// ReadOnly reports whether the session rejects writes.
func (d *Database) ReadOnly() bool { return d.mode.ReadOnly() }

// Session returns the short session id used in log lines.
func (d *Database) Session() string { return d.session }

// TableMain returns the name of the data table.
func (d *Database) TableMain() string { return d.tableMain }

// TableFieldInfo returns the name of the field info table.
func (d *Database) TableFieldInfo() string { return d.tableFieldInfo }

// TableGlobalInfo returns the name of the global info table.
func (d *Database) TableGlobalInfo() string { return d.tableGlobalInfo }

// TableParams returns the name of the parameter table.
func (d *Database) TableParams() string { return d.tableParams }

// Connected reports whether Close has not been called yet.
func (d *Database) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// conn returns the connection or NOT_CONNECTED after Close.
func (d *Database) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, aeerrors.NewAccessError(aeerrors.CodeNotConnected, "not connected to database").
			WithDetails(map[string]interface{}{"file": d.path})
	}
	return d.db, nil
}

// RequireConnected returns NOT_CONNECTED after Close.
func (d *Database) RequireConnected() error {
	_, err := d.conn()
	return err
}

// requireWrite rejects mutating calls on read-only sessions. It must run
// before any statement of the guarded operation.
func (d *Database) requireWrite(op string) error {
	if d.mode.ReadOnly() {
		return aeerrors.NewAccessError(aeerrors.CodeReadOnlyViolation, "can not write to database in read-only mode, open it with mode rw").
			WithDetails(map[string]interface{}{"op": op, "file": d.path, "mode": string(d.mode)})
	}
	_, err := d.conn()
	return err
}

// RequireWrite exposes the write guard to record stores built on the session.
func (d *Database) RequireWrite(op string) error {
	return d.requireWrite(op)
}

// Tables returns the names of all tables in the file.
func (d *Database) Tables() (map[string]struct{}, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, queryError("failed to list tables", err, d.path)
	}
	defer rows.Close()

	tables := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, queryError("failed to scan table name", err, d.path)
		}
		tables[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("failed to list tables", err, d.path)
	}
	return tables, nil
}

// Rows returns the number of rows in the data table.
func (d *Database) Rows() (int64, error) {
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + QuoteIdent(d.tableMain)).Scan(&n); err != nil {
		return 0, queryError("failed to count rows", err, d.path)
	}
	return n, nil
}

// Channels returns the distinct non-NULL Chan values of the data table in
// ascending order.
func (d *Database) Channels() ([]int, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT DISTINCT Chan FROM " + QuoteIdent(d.tableMain) + " WHERE Chan IS NOT NULL ORDER BY Chan")
	if err != nil {
		return nil, queryError("failed to read channels", err, d.path)
	}
	defer rows.Close()

	var channels []int
	for rows.Next() {
		var ch int
		if err := rows.Scan(&ch); err != nil {
			return nil, queryError("failed to scan channel", err, d.path)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("failed to read channels", err, d.path)
	}
	return channels, nil
}

// Columns returns the ordered column names of the data table.
func (d *Database) Columns() ([]string, error) {
	return d.TableColumns(d.tableMain)
}

// TableColumns returns the ordered column names of a table.
func (d *Database) TableColumns(table string) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT * FROM " + QuoteIdent(table) + " LIMIT 0")
	if err != nil {
		return nil, queryError("failed to read columns", err, d.path).
			WithDetails(map[string]interface{}{"file": d.path, "table": table})
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, queryError("failed to read columns", err, d.path)
	}
	return columns, nil
}

// AddColumns extends a table with the given columns. Columns that already
// exist are skipped, so repeated calls are no-ops.
func (d *Database) AddColumns(table string, names []string, sqlType string) error {
	if err := d.requireWrite("AddColumns"); err != nil {
		return err
	}
	existing, err := d.TableColumns(table)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c)] = struct{}{}
	}

	db, err := d.conn()
	if err != nil {
		return err
	}
	var added []string
	for _, name := range names {
		if _, ok := have[strings.ToLower(name)]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", QuoteIdent(table), QuoteIdent(name), sqlType)
		if _, err := db.Exec(strings.TrimSpace(stmt)); err != nil {
			return queryError("failed to add column", err, d.path).
				WithDetails(map[string]interface{}{"file": d.path, "table": table, "column": name})
		}
		have[strings.ToLower(name)] = struct{}{}
		added = append(added, name)
	}
	if len(added) > 0 {
		log.Printf("database: session %s added columns %v to %s", d.session, added, table)
	}
	return nil
}

// Close releases the session. Write sessions refresh the ValidSets and TRAI
// summaries of the global info table first. Calling Close again is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var updateErr error
	if !d.mode.ReadOnly() {
		updateErr = d.updateGlobalInfo()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.params = paramCache{}
	closeErr := d.db.Close()
	log.Printf("database: session %s closed %s", d.session, d.path)

	if updateErr != nil {
		return updateErr
	}
	if closeErr != nil {
		return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to close database", closeErr).
			WithDetails(map[string]interface{}{"file": d.path})
	}
	return nil
}

// queryError wraps a driver error with the file it happened on.
func queryError(message string, err error, path string) *aeerrors.StoreError {
	return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, message, err).
		WithDetails(map[string]interface{}{"file": path})
}
