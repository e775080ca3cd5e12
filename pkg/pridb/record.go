package pridb

import (
	"math"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// SetType is the kind of an ae_data row.
type SetType int

const (
	SetTypeParametric SetType = 1
	SetTypeHit        SetType = 2
	SetTypeStatus     SetType = 3
	SetTypeLabel      SetType = 4 // user label
	SetTypeDateTime   SetType = 5 // inserted when recording is started
	SetTypeSection    SetType = 6 // new section, e.g. after a settings change
)

// IsMarker reports whether rows of type t carry an ae_markers entry.
func (t SetType) IsMarker() bool {
	return t == SetTypeLabel || t == SetTypeDateTime || t == SetTypeSection
}

// rmsScale converts RMS counts to ADC steps.
const rmsScale = 0.0065536

// HitRecord is one AE hit. Optional fields are nil when the file does not
// store them.
type HitRecord struct {
	SetID     int64
	Time      float64 // seconds
	Channel   int
	ParamID   int64
	Amplitude float64 // volts
	Duration  float64 // seconds
	Energy    float64 // eu, 1 eu = 1e-14 V²s
	RMS       float64 // volts

	Threshold      *float64 // volts
	RiseTime       *float64 // seconds
	SignalStrength *float64 // nVs
	Counts         *int64

	// TRAI links the hit to its transient in a tradb file. Zero means none.
	TRAI int64

	CascadeHits           *int64
	CascadeCounts         *int64
	CascadeEnergy         *float64 // eu
	CascadeSignalStrength *float64 // nVs
}

// StatusRecord is one status row of a channel.
type StatusRecord struct {
	SetID   int64
	Time    float64 // seconds
	Channel int
	ParamID int64
	Energy  float64 // eu
	RMS     float64 // volts

	Threshold      *float64 // volts
	SignalStrength *float64 // nVs
}

// ParametricRecord holds the parametric inputs sampled at one time.
type ParametricRecord struct {
	SetID   int64
	Time    float64 // seconds
	ParamID int64

	PCTD *int64 // parametric counter, digital
	PCTA *int64 // parametric counter, analog

	// PA holds the parametric inputs PA0 to PA7 scaled by PAx_mV of the
	// parameter row (1 when the row has no such column).
	PA [8]*float64
}

// MarkerRecord is a label, datetime or section marker.
type MarkerRecord struct {
	SetID   int64
	Time    float64 // seconds
	SetType SetType
	Data    string // label text or datetime
	Number  *int64
}

// paCols are the parametric input columns.
var paCols = [8]string{"PA0", "PA1", "PA2", "PA3", "PA4", "PA5", "PA6", "PA7"}

// scales are the conversion factors of one parameter row.
type scales struct {
	adcMicrovolts float64
	adcTE         float64
	adcSS         float64
}

// scales looks up the ADC factors of param. Every factor is required.
func (s *Store) scales(param types.Parameter) (scales, error) {
	var out scales
	for _, f := range []struct {
		column string
		dst    *float64
	}{
		{"ADC_µV", &out.adcMicrovolts},
		{"ADC_TE", &out.adcTE},
		{"ADC_SS", &out.adcSS},
	} {
		v, ok := param.Float(f.column)
		if !ok || v == 0 {
			return scales{}, aeerrors.NewSchemaError(aeerrors.CodeFieldNotFound, "parameter row has no numeric value for column").
				WithDetails(map[string]interface{}{"file": s.db.Path(), "table": s.db.TableParams(), "id": param.ID, "field": f.column})
		}
		*f.dst = v
	}
	return out, nil
}

// parameter returns the parameter row of a data row, from params when
// present and from the session cache otherwise.
func (s *Store) parameter(row map[string]any, params map[int64]types.Parameter) (types.Parameter, error) {
	id, ok := database.AsInt64(row["ParamID"])
	if !ok {
		setID, _ := database.AsInt64(row["SetID"])
		return types.Parameter{}, aeerrors.NewLookupError(aeerrors.CodeParameterNotFound, "data row has no ParamID").
			WithDetails(map[string]interface{}{"file": s.db.Path(), "set_id": setID})
	}
	if p, ok := params[id]; ok {
		return p, nil
	}
	p, err := s.db.Parameter(id)
	if err != nil {
		setID, _ := database.AsInt64(row["SetID"])
		return types.Parameter{}, aeerrors.AddDetails(err, map[string]interface{}{"set_id": setID})
	}
	return p, nil
}

func optFloat(v any, scale float64) *float64 {
	f, ok := database.AsFloat64(v)
	if !ok {
		return nil
	}
	f *= scale
	return &f
}

func optInt(v any) *int64 {
	i, ok := database.AsInt64(v)
	if !ok {
		return nil
	}
	return &i
}

func (s *Store) hit(row map[string]any, params map[int64]types.Parameter) (HitRecord, error) {
	param, err := s.parameter(row, params)
	if err != nil {
		return HitRecord{}, err
	}
	sc, err := s.scales(param)
	if err != nil {
		return HitRecord{}, err
	}
	volts := sc.adcMicrovolts / 1e6

	rec := HitRecord{ParamID: param.ID}
	rec.SetID, _ = database.AsInt64(row["SetID"])
	rec.Time = s.seconds(row["Time"])
	ch, _ := database.AsInt64(row["Chan"])
	rec.Channel = int(ch)
	amp, _ := database.AsFloat64(row["Amp"])
	rec.Amplitude = amp * volts
	rec.Duration = s.seconds(row["Dur"])
	eny, _ := database.AsFloat64(row["Eny"])
	rec.Energy = eny * sc.adcTE
	rms, _ := database.AsFloat64(row["RMS"])
	rec.RMS = rms * volts * rmsScale

	rec.Threshold = optFloat(row["Thr"], volts)
	rec.RiseTime = optFloat(row["RiseT"], 1/s.timeBase)
	rec.SignalStrength = optFloat(row["SS"], sc.adcSS)
	rec.Counts = optInt(row["Counts"])
	rec.TRAI, _ = database.AsInt64(row["TRAI"])
	rec.CascadeHits = optInt(row["CHits"])
	rec.CascadeCounts = optInt(row["CCnt"])
	rec.CascadeEnergy = optFloat(row["CEny"], sc.adcTE)
	rec.CascadeSignalStrength = optFloat(row["CSS"], sc.adcSS)
	return rec, nil
}

func (s *Store) status(row map[string]any, params map[int64]types.Parameter) (StatusRecord, error) {
	param, err := s.parameter(row, params)
	if err != nil {
		return StatusRecord{}, err
	}
	sc, err := s.scales(param)
	if err != nil {
		return StatusRecord{}, err
	}
	volts := sc.adcMicrovolts / 1e6

	rec := StatusRecord{ParamID: param.ID}
	rec.SetID, _ = database.AsInt64(row["SetID"])
	rec.Time = s.seconds(row["Time"])
	ch, _ := database.AsInt64(row["Chan"])
	rec.Channel = int(ch)
	eny, _ := database.AsFloat64(row["Eny"])
	rec.Energy = eny * sc.adcTE
	rms, _ := database.AsFloat64(row["RMS"])
	rec.RMS = rms * volts * rmsScale
	rec.Threshold = optFloat(row["Thr"], volts)
	rec.SignalStrength = optFloat(row["SS"], sc.adcSS)
	return rec, nil
}

func (s *Store) parametric(row map[string]any, params map[int64]types.Parameter) (ParametricRecord, error) {
	var rec ParametricRecord
	rec.SetID, _ = database.AsInt64(row["SetID"])
	rec.Time = s.seconds(row["Time"])
	rec.PCTD = optInt(row["PCTD"])
	rec.PCTA = optInt(row["PCTA"])

	var param types.Parameter
	if _, ok := database.AsInt64(row["ParamID"]); ok {
		p, err := s.parameter(row, params)
		if err != nil {
			return ParametricRecord{}, err
		}
		param = p
		rec.ParamID = p.ID
	}
	for i, col := range paCols {
		rec.PA[i] = optFloat(row[col], paScale(param, col))
	}
	return rec, nil
}

func (s *Store) marker(row map[string]any) MarkerRecord {
	var rec MarkerRecord
	rec.SetID, _ = database.AsInt64(row["SetID"])
	rec.Time = s.seconds(row["Time"])
	t, _ := database.AsInt64(row["SetType"])
	rec.SetType = SetType(t)
	rec.Data = database.AsString(row["Data"])
	rec.Number = optInt(row["Number"])
	return rec
}

// paScale returns the mV step of a parametric input, 1 if param has none.
func paScale(param types.Parameter, column string) float64 {
	if v, ok := param.Float(column + "_mV"); ok && v != 0 {
		return v
	}
	return 1
}

func (s *Store) seconds(v any) float64 {
	ticks, _ := database.AsFloat64(v)
	return ticks / s.timeBase
}

func (s *Store) ticks(seconds float64) int64 {
	return int64(math.Round(seconds * s.timeBase))
}

// round converts a physical value to stored counts.
func round(v float64) int64 { return int64(math.Round(v)) }

// roundOpt is round for optional values; nil stays NULL.
func roundOpt(v *float64, scale float64) any {
	if v == nil {
		return nil
	}
	return round(*v * scale)
}
