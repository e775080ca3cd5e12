// Package tradb reads and writes transient waveform databases (*.tradb).
//
// A tradb file is an SQLite database with four tables: tr_data holds one row
// per transient recording with its samples encoded in the Data blob,
// tr_params the acquisition parameters (ADC step, scaling), and
// tr_fieldinfo / tr_globalinfo the file metadata.
//
// Open a file read-only with OpenReader or Open(path, types.ModeReadOnly).
// A store opened with types.ModeReadWrite holds an exclusive lock on the file
// until Close.
package tradb

import (
	"database/sql"
	_ "embed"
	"log"
	"math"

	"github.com/aewave/aewave/internal/codec"
	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/internal/observability"
	"github.com/aewave/aewave/pkg/types"
)

const (
	// TablePrefix is the table family of tradb files.
	TablePrefix = "tr"
	// Extension is the required file extension.
	Extension = "tradb"
	// DefaultTimeBase is the number of Time ticks per second when the file
	// does not declare one.
	DefaultTimeBase = 1e7

	// statusWritten is the Status flag of rows written by this package.
	statusWritten = 32768
)

//go:embed schema.sql
var schemaSQL string

// Reader is the read-only view of a store.
type Reader interface {
	Path() string
	Rows() (int64, error)
	Columns() ([]string, error)
	Channels() ([]int, error)
	FieldInfo() (map[string]types.FieldInfo, error)
	GlobalInfo() (map[string]types.GlobalValue, error)
	Parameter(id int64) (types.Parameter, error)
	TimeBase() float64
	Iterate(q Query) *Iterator
	ReadAll(q Query) (*Table, error)
	ReadWave(trai int64) (Wave, error)
	ReadWaveTime(trai int64) (Wave, error)
	ReadContinuousWave(channel int, opts ContinuousOptions) (Continuous, error)
	DecodeData(rec *Record) error
	Close() error
}

// ReadWriter adds the mutating operations. Calling them on a store opened
// read-only returns types.ErrReadOnlyViolation.
type ReadWriter interface {
	Reader
	Write(rec Record) (int64, error)
	WriteBatch(recs []Record) ([]int64, error)
	WriteParameter(p types.Parameter) error
	WriteFieldInfo(field string, info types.FieldInfo) error
	AddColumns(names []string, sqlType string) error
}

var _ ReadWriter = (*Store)(nil)

// Store is a session on one tradb file.
type Store struct {
	db       *database.Database
	codec    *codec.Codec
	format   types.DataFormat
	timeBase float64
}

type options struct {
	compression    bool
	checkExtension bool
	compressor     codec.Compressor
}

// Option configures Open.
type Option func(*options)

// WithCompression stores the samples of written records as FLAC instead of
// raw 16-bit values.
func WithCompression() Option {
	return func(o *options) { o.compression = true }
}

// WithoutExtensionCheck accepts files that do not end in .tradb.
func WithoutExtensionCheck() Option {
	return func(o *options) { o.checkExtension = false }
}

// WithCompressor replaces the FLAC implementation used for compressed blobs.
func WithCompressor(c codec.Compressor) Option {
	return func(o *options) { o.compressor = c }
}

// Open opens an existing tradb file.
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

	s := &Store{
		db:       db,
		codec:    codec.New(o.compressor),
		format:   types.DataFormatRaw,
		timeBase: DefaultTimeBase,
	}
	if o.compression {
		s.format = types.DataFormatFLAC
	}

	info, err := db.GlobalInfo()
	if err != nil {
		db.Close()
		return nil, err
	}
	if v, ok := info["TimeBase"].AsFloat(); ok && v > 0 {
		s.timeBase = v
	} else {
		log.Printf("tradb: %s declares no valid TimeBase, using %g", path, float64(DefaultTimeBase))
	}
	return s, nil
}

// OpenReader opens a tradb file read-only.
func OpenReader(path string, opts ...Option) (Reader, error) {
	s, err := Open(path, types.ModeReadOnly, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create writes a new, empty tradb file. It fails with types.ErrFileExists
// if path exists.
func Create(path string) error {
	return database.Create(path, schemaSQL)
}

// Path returns the file path of the store.
func (s *Store) Path() string { return s.db.Path() }

// Mode returns the access mode the store was opened with.
func (s *Store) Mode() types.Mode { return s.db.Mode() }

// TimeBase returns the number of Time ticks per second.
func (s *Store) TimeBase() float64 { return s.timeBase }

// DataFormat returns the encoding used for written records.
func (s *Store) DataFormat() types.DataFormat { return s.format }

// Rows returns the number of records.
func (s *Store) Rows() (int64, error) { return s.db.Rows() }

// Columns returns the columns of tr_data.
func (s *Store) Columns() ([]string, error) { return s.db.Columns() }

// FieldInfo returns the tr_fieldinfo rows keyed by field.
func (s *Store) FieldInfo() (map[string]types.FieldInfo, error) { return s.db.FieldInfo() }

// GlobalInfo returns the decoded tr_globalinfo table.
func (s *Store) GlobalInfo() (map[string]types.GlobalValue, error) { return s.db.GlobalInfo() }

// Parameter returns a row of tr_params.
func (s *Store) Parameter(id int64) (types.Parameter, error) { return s.db.Parameter(id) }

// WriteParameter inserts or replaces a row of tr_params, e.g.
// {ID: 1, Values: {"ADC_µV": 1.5, "TR_mV": 0.5}}. Iterators started before
// the call keep the previous parameters.
func (s *Store) WriteParameter(p types.Parameter) error {
	return s.db.WriteParameter(p)
}

// WriteFieldInfo writes the metadata of a tr_data column.
func (s *Store) WriteFieldInfo(field string, info types.FieldInfo) error {
	return s.db.WriteFieldInfo(field, info)
}

// AddColumns adds columns to tr_data.
func (s *Store) AddColumns(names []string, sqlType string) error {
	return s.db.AddColumns(s.db.TableMain(), names, sqlType)
}

// TopPredicates returns the n columns most often filtered on in this session.
func (s *Store) TopPredicates(n int) []observability.ColumnStats {
	return s.db.QueryStats().Top(n)
}

// Close closes the store. Write sessions update ValidSets and TRAI of
// tr_globalinfo first. Close is idempotent.
func (s *Store) Close() error { return s.db.Close() }

// Channels returns the distinct channel numbers in ascending order.
func (s *Store) Channels() ([]int, error) { return s.db.Channels() }

// DecodeData decodes the samples of rec into rec.Data using the TR_mV step
// of its parameter row.
func (s *Store) DecodeData(rec *Record) error {
	param, err := s.db.Parameter(rec.ParamID)
	if err != nil {
		return err
	}
	step, err := s.paramValue(param, "TR_mV")
	if err != nil {
		return err
	}
	data, err := s.codec.Decode(rec.blob, rec.DataFormat, step)
	if err != nil {
		return aeerrors.AddDetails(err, map[string]interface{}{"file": s.db.Path(), "set_id": rec.SetID, "trai": rec.TRAI, "format": int(rec.DataFormat)})
	}
	rec.Data = data
	return nil
}

// Write appends a record and returns its SetID.
//
// Time is stored in ticks of the file's TimeBase and the threshold in ADC
// counts of the parameter row. Data is encoded with the store's format; the
// DataFormat field of rec is ignored. A zero TRAI is stored as NULL.
// Duplicate TRAI values are accepted.
func (s *Store) Write(rec Record) (int64, error) {
	if err := s.db.RequireWrite("Write"); err != nil {
		return 0, err
	}
	row, err := s.encodeRow(rec)
	if err != nil {
		return 0, err
	}
	return s.db.Insert(s.db.TableMain(), row)
}

// encodeRow builds the tr_data row of rec. It only reads the cached
// parameter table.
func (s *Store) encodeRow(rec Record) (database.Row, error) {
	param, err := s.db.Parameter(rec.ParamID)
	if err != nil {
		return nil, err
	}
	adcMicrovolts, err := s.paramValue(param, "ADC_µV")
	if err != nil {
		return nil, err
	}
	step, err := s.paramValue(param, "TR_mV")
	if err != nil {
		return nil, err
	}

	blob, err := s.codec.Encode(rec.Data, s.format, step)
	if err != nil {
		return nil, err
	}

	samples := rec.Samples
	if samples == 0 {
		samples = len(rec.Data)
	}
	row := database.Row{
		"Time":       int64(math.Round(rec.Time * s.timeBase)),
		"Chan":       rec.Channel,
		"Status":     statusWritten,
		"ParamID":    rec.ParamID,
		"Pretrigger": rec.Pretrigger,
		"Thr":        int64(math.Round(rec.Threshold * 1e6 / adcMicrovolts)),
		"SampleRate": rec.SampleRate,
		"Samples":    samples,
		"DataFormat": int(s.format),
		"Data":       blob,
	}
	if rec.TRAI != 0 {
		row["TRAI"] = rec.TRAI
	}
	return row, nil
}

func (s *Store) paramValue(param types.Parameter, column string) (float64, error) {
	v, ok := param.Float(column)
	if !ok {
		return 0, aeerrors.NewSchemaError(aeerrors.CodeFieldNotFound, "parameter row has no numeric value for column").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "table": s.db.TableParams(), "id": param.ID, "field": column})
	}
	return v, nil
}

// WriteBatch writes recs in one transaction and returns their SetIDs. Either
// all records are stored or none.
func (s *Store) WriteBatch(recs []Record) ([]int64, error) {
	if err := s.db.RequireWrite("WriteBatch"); err != nil {
		return nil, err
	}
	rows := make([]database.Row, len(recs))
	for i, rec := range recs {
		row, err := s.encodeRow(rec)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	ids := make([]int64, 0, len(rows))
	table := s.db.TableMain()
	err := s.db.WithTx("WriteBatch", func(tx *sql.Tx) error {
		for _, row := range rows {
			id, err := database.InsertInto(tx, table, row)
			if err != nil {
				return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to insert record", err).
					WithDetails(map[string]interface{}{"file": s.db.Path(), "table": table, "index": len(ids)})
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
