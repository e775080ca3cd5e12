package tradb

import (
	"database/sql"
	"sort"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// Record is one transient recording.
type Record struct {
	SetID      int64
	Time       float64 // seconds
	Channel    int
	ParamID    int64
	Pretrigger int     // samples before the trigger
	Threshold  float64 // volts
	SampleRate int     // Hz
	Samples    int
	DataFormat types.DataFormat

	// Data holds the samples in volts. Records read from a store leave it
	// nil until DecodeData is called.
	Data []float32

	// TRAI is the transient recorder index. Zero means none.
	TRAI int64

	blob []byte
}

// Wave is the decoded signal of one record.
type Wave struct {
	Samples    []float32
	SampleRate int
	// Time is set by ReadWaveTime: Time[i] = (i - pretrigger) / samplerate.
	Time []float32
}

const recordColumns = "SetID, Time, Chan, ParamID, Pretrigger, Thr, SampleRate, Samples, DataFormat, Data, TRAI"

// recordRow is the scan target of recordColumns.
type recordRow struct {
	setID      int64
	time       sql.NullFloat64
	channel    sql.NullInt64
	paramID    sql.NullInt64
	pretrigger sql.NullInt64
	thr        sql.NullFloat64
	sampleRate sql.NullInt64
	samples    sql.NullInt64
	dataFormat sql.NullInt64
	data       []byte
	trai       sql.NullInt64
}

func (r *recordRow) dest() []any {
	return []any{&r.setID, &r.time, &r.channel, &r.paramID, &r.pretrigger, &r.thr,
		&r.sampleRate, &r.samples, &r.dataFormat, &r.data, &r.trai}
}

// record converts raw column values to physical units. params is the
// parameter table read when the pass started; rows written since are looked
// up in the session cache. It must not run while rows are open.
func (s *Store) record(r *recordRow, params map[int64]types.Parameter) (Record, error) {
	rec := Record{
		SetID:      r.setID,
		Time:       r.time.Float64 / s.timeBase,
		Channel:    int(r.channel.Int64),
		ParamID:    r.paramID.Int64,
		Pretrigger: int(r.pretrigger.Int64),
		SampleRate: int(r.sampleRate.Int64),
		Samples:    int(r.samples.Int64),
		DataFormat: types.DataFormat(r.dataFormat.Int64),
		TRAI:       r.trai.Int64,
		blob:       r.data,
	}
	if r.thr.Valid && r.paramID.Valid {
		param, ok := params[r.paramID.Int64]
		if !ok {
			p, err := s.db.Parameter(r.paramID.Int64)
			if err != nil {
				return Record{}, aeerrors.AddDetails(err, map[string]interface{}{"file": s.db.Path(), "set_id": r.setID})
			}
			param = p
		}
		adcMicrovolts, err := s.paramValue(param, "ADC_µV")
		if err != nil {
			return Record{}, err
		}
		rec.Threshold = r.thr.Float64 * adcMicrovolts / 1e6
	}
	return rec, nil
}

// ReadWave reads and decodes the record with the given TRAI. When several
// records share the TRAI, the first written one is returned.
func (s *Store) ReadWave(trai int64) (Wave, error) {
	rec, err := s.recordByTRAI(trai)
	if err != nil {
		return Wave{}, err
	}
	if err := s.DecodeData(&rec); err != nil {
		return Wave{}, err
	}
	return Wave{Samples: rec.Data, SampleRate: rec.SampleRate}, nil
}

// ReadWaveTime is ReadWave with the time axis filled in. Index 0 is
// -pretrigger/samplerate and the last index (samples-pretrigger-1)/samplerate.
func (s *Store) ReadWaveTime(trai int64) (Wave, error) {
	rec, err := s.recordByTRAI(trai)
	if err != nil {
		return Wave{}, err
	}
	if err := s.DecodeData(&rec); err != nil {
		return Wave{}, err
	}
	return Wave{
		Samples:    rec.Data,
		SampleRate: rec.SampleRate,
		Time:       TimeVector(len(rec.Data), rec.SampleRate, rec.Pretrigger),
	}, nil
}

// TimeVector returns the time of each sample relative to the trigger.
func TimeVector(samples, sampleRate, pretrigger int) []float32 {
	t := make([]float32, samples)
	if sampleRate <= 0 {
		return t
	}
	for i := range t {
		t[i] = float32(float64(i-pretrigger) / float64(sampleRate))
	}
	return t
}

func (s *Store) recordByTRAI(trai int64) (Record, error) {
	params, err := s.db.Parameters()
	if err != nil {
		return Record{}, err
	}
	var r recordRow
	query := "SELECT " + recordColumns + " FROM " + database.QuoteIdent(s.db.TableMain()) +
		" WHERE TRAI = ? ORDER BY SetID LIMIT 1"
	err = s.db.QueryRow(query, []any{trai}, r.dest()...)
	if err == sql.ErrNoRows {
		return Record{}, aeerrors.NewLookupError(aeerrors.CodeTRAINotFound, "TRAI does not exist").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "table": s.db.TableMain(), "trai": trai})
	}
	if err != nil {
		return Record{}, err
	}
	return s.record(&r, params)
}

// Table is the eager result of ReadAll. Records keep iteration order.
type Table struct {
	Records []Record
	byTRAI  map[int64][]int
}

// Lookup returns all records with the given TRAI.
func (t *Table) Lookup(trai int64) []Record {
	idx := t.byTRAI[trai]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Record, len(idx))
	for i, j := range idx {
		out[i] = t.Records[j]
	}
	return out
}

// TRAIs returns the distinct non-zero TRAI values in ascending order.
func (t *Table) TRAIs() []int64 {
	out := make([]int64, 0, len(t.byTRAI))
	for trai := range t.byTRAI {
		if trai != 0 {
			out = append(out, trai)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// ReadAll collects the records matching q. Samples are not decoded.
func (s *Store) ReadAll(q Query) (*Table, error) {
	it := s.Iterate(q)
	defer it.Close()

	t := &Table{byTRAI: make(map[int64][]int)}
	if n := it.Len(); n > 0 {
		t.Records = make([]Record, 0, n)
	}
	for it.Next() {
		rec := it.Record()
		t.byTRAI[rec.TRAI] = append(t.byTRAI[rec.TRAI], len(t.Records))
		t.Records = append(t.Records, rec)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
