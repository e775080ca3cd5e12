package features

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aewave/aewave/pkg/tradb"
	"github.com/aewave/aewave/pkg/trfdb"
	"github.com/aewave/aewave/pkg/types"
)

// Hit holds the features of one transient.
type Hit struct {
	Amplitude      float64 // volts
	RiseTime       float64 // seconds
	Energy         float64 // eu
	SignalStrength float64 // nVs
	Counts         int
	RMS            float64 // volts
}

// Extract computes the features of data recorded with the given threshold
// in volts.
func Extract(data []float32, threshold float64, sampleRate int) Hit {
	return Hit{
		Amplitude:      PeakAmplitude(data),
		RiseTime:       RiseTime(data, threshold, sampleRate),
		Energy:         Energy(data, sampleRate),
		SignalStrength: SignalStrength(data, sampleRate),
		Counts:         Counts(data, threshold),
		RMS:            RMS(data),
	}
}

// units are the trfdb column names and units of Hit.
var units = []struct{ name, unit string }{
	{"Amp", "[V]"},
	{"RiseT", "[s]"},
	{"Eny", "[eu]"},
	{"SS", "[nVs]"},
	{"Counts", ""},
	{"RMS", "[V]"},
}

// Names returns the trfdb column names of Hit.
func Names() []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.name
	}
	return names
}

// Map returns h keyed by trfdb column name.
func (h Hit) Map() map[string]float64 {
	return map[string]float64{
		"Amp":    h.Amplitude,
		"RiseT":  h.RiseTime,
		"Eny":    h.Energy,
		"SS":     h.SignalStrength,
		"Counts": float64(h.Counts),
		"RMS":    h.RMS,
	}
}

// Options configures Compute.
type Options struct {
	// Query selects the transients. Records without a TRAI are skipped.
	Query tradb.Query

	// Workers bounds the records processed in parallel. Zero means
	// GOMAXPROCS.
	Workers int
}

// Compute extracts the features of the transients in src and writes them to
// dst keyed by TRAI, replacing stored values. It returns the number of
// records written. The feature columns and their units are created first.
func Compute(ctx context.Context, src tradb.Reader, dst *trfdb.Store, opts Options) (int, error) {
	if err := dst.AddFeatures(Names()...); err != nil {
		return 0, err
	}
	for _, u := range units {
		if u.unit == "" {
			continue
		}
		if err := dst.WriteFieldInfo(u.name, types.FieldInfo{"Unit": u.unit}); err != nil {
			return 0, err
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var written atomic.Int64
	var loopErr error

	it := src.Iterate(opts.Query)
	defer it.Close()
	for it.Next() {
		if gctx.Err() != nil {
			break
		}
		rec := it.Record()
		if rec.TRAI == 0 {
			continue
		}
		if err := src.DecodeData(&rec); err != nil {
			loopErr = err
			break
		}
		g.Go(func() error {
			h := Extract(rec.Data, rec.Threshold, rec.SampleRate)
			if _, err := dst.Write(trfdb.FeatureRecord{TRAI: rec.TRAI, Features: h.Map()}); err != nil {
				return err
			}
			written.Add(1)
			return nil
		})
	}

	waitErr := g.Wait()
	n := int(written.Load())
	if waitErr != nil {
		return n, waitErr
	}
	if loopErr != nil {
		return n, loopErr
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	log.Printf("features: wrote %d feature records from %s to %s", n, src.Path(), dst.Path())
	return n, nil
}
