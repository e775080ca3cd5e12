// Package trfdb reads and writes transient feature databases (*.trfdb).
//
// A trfdb file holds one row per transient, keyed by the TRAI of the tradb
// record it was computed from. Every other column of trf_data is a feature
// stored as REAL; columns are added on demand when a record names a new
// feature.
package trfdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/internal/observability"
	"github.com/aewave/aewave/pkg/types"
)

const (
	// TablePrefix is the table family of trfdb files.
	TablePrefix = "trf"
	// Extension is the required file extension.
	Extension = "trfdb"
)

//go:embed schema.sql
var schemaSQL string

// FeatureRecord holds the features of one transient.
type FeatureRecord struct {
	TRAI     int64
	Features map[string]float64
}

// Store is a session on one trfdb file.
type Store struct {
	db *database.Database
}

type options struct {
	checkExtension bool
}

// Option configures Open.
type Option func(*options)

// WithoutExtensionCheck accepts files that do not end in .trfdb.
func WithoutExtensionCheck() Option {
	return func(o *options) { o.checkExtension = false }
}

// Open opens an existing trfdb file.
func Open(path string, mode types.Mode, opts ...Option) (*Store, error) {
	o := options{checkExtension: true}
	for _, opt := range opts {
		opt(&o)
	}
	dbOpts := database.Options{TablePrefix: TablePrefix}
	if o.checkExtension {
		dbOpts.RequiredExtension = Extension
	}
	db, err := database.Open(path, mode, dbOpts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Create writes a new, empty trfdb file. It fails with types.ErrFileExists
// if path exists.
func Create(path string) error {
	return database.Create(path, schemaSQL)
}

// Path returns the file path of the store.
func (s *Store) Path() string { return s.db.Path() }

// Mode returns the access mode the store was opened with.
func (s *Store) Mode() types.Mode { return s.db.Mode() }

// Rows returns the number of feature records.
func (s *Store) Rows() (int64, error) { return s.db.Rows() }

// Columns returns the columns of trf_data, TRAI included.
func (s *Store) Columns() ([]string, error) { return s.db.Columns() }

// Features returns the feature names, i.e. every column but TRAI.
func (s *Store) Features() ([]string, error) {
	columns, err := s.db.Columns()
	if err != nil {
		return nil, err
	}
	features := make([]string, 0, len(columns))
	for _, c := range columns {
		if !strings.EqualFold(c, "TRAI") {
			features = append(features, c)
		}
	}
	return features, nil
}

// FieldInfo returns the trf_fieldinfo rows keyed by feature name.
func (s *Store) FieldInfo() (map[string]types.FieldInfo, error) { return s.db.FieldInfo() }

// GlobalInfo returns the decoded trf_globalinfo values.
func (s *Store) GlobalInfo() (map[string]types.GlobalValue, error) { return s.db.GlobalInfo() }

// WriteFieldInfo sets the metadata of a feature column, e.g. its unit.
func (s *Store) WriteFieldInfo(field string, info types.FieldInfo) error {
	return s.db.WriteFieldInfo(field, info)
}

// AddFeatures adds REAL columns for the given feature names.
func (s *Store) AddFeatures(names ...string) error {
	return s.db.AddColumns(s.db.TableMain(), names, "REAL")
}

// TopPredicates returns the n columns most often filtered on in this session.
func (s *Store) TopPredicates(n int) []observability.ColumnStats {
	return s.db.QueryStats().Top(n)
}

// Close closes the store. Close is idempotent.
func (s *Store) Close() error { return s.db.Close() }

// Write stores rec, replacing the features of an existing record with the
// same TRAI. Features missing from rec keep their stored values. Unknown
// feature names are added as REAL columns and the write is retried once.
// Write returns the TRAI.
func (s *Store) Write(rec FeatureRecord) (int64, error) {
	if err := s.db.RequireWrite("Write"); err != nil {
		return 0, err
	}
	if rec.TRAI <= 0 {
		return 0, aeerrors.NewLookupError(aeerrors.CodeTRAINotFound, "feature record needs a positive TRAI").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "trai": rec.TRAI})
	}

	names := make([]string, 0, len(rec.Features))
	for name := range rec.Features {
		if !strings.EqualFold(name, "TRAI") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	err := s.upsert(rec, names)
	if err == nil || !database.IsMissingColumn(err) {
		return rec.TRAI, err
	}

	log.Printf("trfdb: adding feature columns for TRAI %d of %s", rec.TRAI, s.db.Path())
	if err := s.AddFeatures(names...); err != nil {
		return 0, err
	}
	if err := s.upsert(rec, names); err != nil {
		return 0, err
	}
	return rec.TRAI, nil
}

func (s *Store) upsert(rec FeatureRecord, names []string) error {
	columns := append([]string{"TRAI"}, names...)
	args := make([]any, len(columns))
	args[0] = rec.TRAI
	for i, name := range names {
		args[i+1] = rec.Features[name]
	}
	query := upsertQuery(s.db.TableMain(), columns)

	return s.db.WithTx("Write", func(tx *sql.Tx) error {
		if _, err := tx.Exec(query, args...); err != nil {
			return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to write features", err).
				WithDetails(map[string]interface{}{"file": s.db.Path(), "table": s.db.TableMain(), "trai": rec.TRAI})
		}
		return nil
	})
}

// upsertQuery extends the insert of columns with an update of every column
// but the first, which is the conflict key.
func upsertQuery(table string, columns []string) string {
	query := database.InsertQuery(table, columns)
	key := database.QuoteIdent(columns[0])
	if len(columns) == 1 {
		return query + " ON CONFLICT(" + key + ") DO NOTHING"
	}
	set := make([]string, len(columns)-1)
	for i, c := range columns[1:] {
		q := database.QuoteIdent(c)
		set[i] = fmt.Sprintf("%s = excluded.%s", q, q)
	}
	return query + " ON CONFLICT(" + key + ") DO UPDATE SET " + strings.Join(set, ", ")
}
