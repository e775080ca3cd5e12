// Package pridb reads and writes primary AE databases (*.pridb).
//
// A pridb file holds the feature stream of an acquisition: hits, status
// rows and parametric inputs in ae_data, plus markers whose text lives in
// ae_markers. Rows are appended in time order; writes that would move Time
// backwards are rejected with types.ErrNonMonotonicTime.
package pridb

import (
	"database/sql"
	_ "embed"
	"log"
	"sync"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

const (
	// TablePrefix is the table family of pridb files.
	TablePrefix = "ae"
	// Extension is the required file extension.
	Extension = "pridb"
	// DefaultTimeBase is the number of Time ticks per second when the file
	// does not declare one.
	DefaultTimeBase = 1e7

	tableMarkers = "ae_markers"
)

//go:embed schema.sql
var schemaSQL string

// Store is a session on one pridb file.
type Store struct {
	db       *database.Database
	timeBase float64

	// mu serializes the time check with the insert it guards.
	mu sync.Mutex
}

type options struct {
	checkExtension bool
}

// Option configures Open.
type Option func(*options)

// WithoutExtensionCheck accepts files that do not end in .pridb.
func WithoutExtensionCheck() Option {
	return func(o *options) { o.checkExtension = false }
}

// Open opens an existing pridb file.
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

	s := &Store{db: db, timeBase: DefaultTimeBase}
	info, err := db.GlobalInfo()
	if err != nil {
		db.Close()
		return nil, err
	}
	if v, ok := info["TimeBase"].AsFloat(); ok && v > 0 {
		s.timeBase = v
	} else {
		log.Printf("pridb: %s declares no valid TimeBase, using %g", path, float64(DefaultTimeBase))
	}
	return s, nil
}

// Create writes a new, empty pridb file. It fails with types.ErrFileExists
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

// Rows returns the number of ae_data rows of every set type.
func (s *Store) Rows() (int64, error) { return s.db.Rows() }

// Channels returns the distinct channel numbers of hits and status rows.
func (s *Store) Channels() ([]int, error) { return s.db.Channels() }

// Columns returns the columns of ae_data.
func (s *Store) Columns() ([]string, error) { return s.db.Columns() }

// FieldInfo returns the ae_fieldinfo rows keyed by field.
func (s *Store) FieldInfo() (map[string]types.FieldInfo, error) { return s.db.FieldInfo() }

// GlobalInfo returns the decoded ae_globalinfo table.
func (s *Store) GlobalInfo() (map[string]types.GlobalValue, error) { return s.db.GlobalInfo() }

// Parameter returns a row of ae_params.
func (s *Store) Parameter(id int64) (types.Parameter, error) { return s.db.Parameter(id) }

// WriteParameter inserts or replaces a row of ae_params, e.g.
// {ID: 1, Values: {"ADC_µV": 1, "ADC_TE": 1e-2, "ADC_SS": 1e-1}}.
func (s *Store) WriteParameter(p types.Parameter) error { return s.db.WriteParameter(p) }

// WriteFieldInfo writes the metadata of an ae_data column.
func (s *Store) WriteFieldInfo(field string, info types.FieldInfo) error {
	return s.db.WriteFieldInfo(field, info)
}

// Close closes the store. Write sessions update ValidSets and TRAI of
// ae_globalinfo first. Close is idempotent.
func (s *Store) Close() error { return s.db.Close() }

// LastTime returns the time of the newest row in seconds, 0 for an empty
// file.
func (s *Store) LastTime() (float64, error) {
	ticks, err := s.lastTicks()
	if err != nil {
		return 0, err
	}
	return float64(ticks) / s.timeBase, nil
}

func (s *Store) lastTicks() (int64, error) {
	var last sql.NullInt64
	err := s.db.QueryRow("SELECT Time FROM "+database.QuoteIdent(s.db.TableMain())+" ORDER BY SetID DESC LIMIT 1", nil, &last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Int64, nil
}

// append inserts row after checking that its time does not precede the
// newest stored row. marker, when set, is written to ae_markers in the same
// transaction.
func (s *Store) append(op string, seconds float64, row database.Row, marker database.Row) (int64, error) {
	if err := s.db.RequireWrite(op); err != nil {
		return 0, err
	}
	ticks := s.ticks(seconds)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastTicks()
	if err != nil {
		return 0, err
	}
	if ticks < last {
		return 0, aeerrors.NewSchemaError(aeerrors.CodeNonMonotonicTime, "time must not be lower than the last stored time").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "time": seconds, "last": float64(last) / s.timeBase})
	}
	row["Time"] = ticks

	table := s.db.TableMain()
	var id int64
	err = s.db.WithTx(op, func(tx *sql.Tx) error {
		var err error
		id, err = database.InsertInto(tx, table, row)
		if err != nil {
			return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to insert row", err).
				WithDetails(map[string]interface{}{"file": s.db.Path(), "table": table})
		}
		if marker == nil {
			return nil
		}
		marker["SetID"] = id
		if _, err := database.InsertInto(tx, tableMarkers, marker); err != nil {
			return aeerrors.NewStorageError(aeerrors.CodeQueryFailed, "failed to insert marker", err).
				WithDetails(map[string]interface{}{"file": s.db.Path(), "table": tableMarkers, "set_id": id})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// WriteHit appends a hit and returns its SetID. rec.SetID is ignored.
// Amplitudes are stored in ADC steps of the parameter row, durations in
// Time ticks.
func (s *Store) WriteHit(rec HitRecord) (int64, error) {
	if err := s.db.RequireWrite("WriteHit"); err != nil {
		return 0, err
	}
	param, err := s.db.Parameter(rec.ParamID)
	if err != nil {
		return 0, err
	}
	sc, err := s.scales(param)
	if err != nil {
		return 0, err
	}
	step := 1e6 / sc.adcMicrovolts

	row := database.Row{
		"SetType": int(SetTypeHit),
		"Chan":    rec.Channel,
		"Status":  0,
		"ParamID": rec.ParamID,
		"Thr":     roundOpt(rec.Threshold, step),
		"Amp":     round(rec.Amplitude * step),
		"RiseT":   roundOpt(rec.RiseTime, s.timeBase),
		"Dur":     round(rec.Duration * s.timeBase),
		"Eny":     round(rec.Energy / sc.adcTE),
		"SS":      roundOpt(rec.SignalStrength, 1/sc.adcSS),
		"RMS":     round(rec.RMS * step / rmsScale),
		"Counts":  intOpt(rec.Counts),
		"CHits":   intOpt(rec.CascadeHits),
		"CCnt":    intOpt(rec.CascadeCounts),
		"CEny":    roundOpt(rec.CascadeEnergy, 1/sc.adcTE),
		"CSS":     roundOpt(rec.CascadeSignalStrength, 1/sc.adcSS),
	}
	if rec.TRAI != 0 {
		row["TRAI"] = rec.TRAI
	}
	return s.append("WriteHit", rec.Time, row, nil)
}

// WriteStatus appends a status row and returns its SetID.
func (s *Store) WriteStatus(rec StatusRecord) (int64, error) {
	if err := s.db.RequireWrite("WriteStatus"); err != nil {
		return 0, err
	}
	param, err := s.db.Parameter(rec.ParamID)
	if err != nil {
		return 0, err
	}
	sc, err := s.scales(param)
	if err != nil {
		return 0, err
	}
	step := 1e6 / sc.adcMicrovolts

	row := database.Row{
		"SetType": int(SetTypeStatus),
		"Chan":    rec.Channel,
		"Status":  0,
		"ParamID": rec.ParamID,
		"Thr":     roundOpt(rec.Threshold, step),
		"Eny":     round(rec.Energy / sc.adcTE),
		"SS":      roundOpt(rec.SignalStrength, 1/sc.adcSS),
		"RMS":     round(rec.RMS * step / rmsScale),
	}
	return s.append("WriteStatus", rec.Time, row, nil)
}

// WriteParametric appends parametric inputs and returns the SetID. The
// parameter row is optional; inputs are divided by its PAx_mV columns.
func (s *Store) WriteParametric(rec ParametricRecord) (int64, error) {
	if err := s.db.RequireWrite("WriteParametric"); err != nil {
		return 0, err
	}
	row := database.Row{
		"SetType": int(SetTypeParametric),
		"Status":  0,
		"PCTD":    intOpt(rec.PCTD),
		"PCTA":    intOpt(rec.PCTA),
	}
	var param types.Parameter
	if rec.ParamID != 0 {
		p, err := s.db.Parameter(rec.ParamID)
		if err != nil {
			return 0, err
		}
		param = p
		row["ParamID"] = rec.ParamID
	}
	for i, col := range paCols {
		row[col] = roundOpt(rec.PA[i], 1/paScale(param, col))
	}
	return s.append("WriteParametric", rec.Time, row, nil)
}

// WriteMarker appends a marker and returns its SetID. The ae_data and
// ae_markers rows are written in one transaction.
func (s *Store) WriteMarker(rec MarkerRecord) (int64, error) {
	if err := s.db.RequireWrite("WriteMarker"); err != nil {
		return 0, err
	}
	if !rec.SetType.IsMarker() {
		return 0, aeerrors.NewAccessError(aeerrors.CodeUnsupportedOperation, "marker set type must be 4, 5 or 6").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "set_type": int(rec.SetType)})
	}
	row := database.Row{"SetType": int(rec.SetType)}
	marker := database.Row{"Number": intOpt(rec.Number), "Data": rec.Data}
	return s.append("WriteMarker", rec.Time, row, marker)
}

func intOpt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
