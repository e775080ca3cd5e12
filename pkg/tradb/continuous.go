package tradb

import (
	"log"
	"math"

	aeerrors "github.com/aewave/aewave/internal/errors"
)

// ContinuousOptions configures ReadContinuousWave.
type ContinuousOptions struct {
	// TimeStart and TimeStop slice the assembled signal to
	// [TimeStart, TimeStop) in seconds. Bounds outside the signal are clamped.
	TimeStart *float64
	TimeStop  *float64

	// TimeAxis fills Continuous.Time.
	TimeAxis bool
}

// Continuous is a gap-filled signal assembled from consecutive records.
type Continuous struct {
	Samples    []float32
	SampleRate int
	// Offset is the time of Samples[0] in seconds.
	Offset float64
	// Time holds the time of each sample when requested.
	Time []float32
}

// Assembler stitches records of one channel into a continuous signal.
// The first record fixes the start time and the samplerate. Each record is
// placed at round((time - start) * samplerate); a gap to the end of the
// signal is filled with zeros and overlapping samples are appended as they are.
// Records must arrive in time order.
type Assembler struct {
	samples    []float32
	sampleRate int
	start      float64
	started    bool
	last       int // start index of the previous record
}

// Append adds the samples of one record.
func (a *Assembler) Append(time float64, sampleRate int, samples []float32) error {
	if sampleRate <= 0 {
		return aeerrors.NewCodecError(aeerrors.CodeSampleRateMismatch, "samplerate must be positive").
			WithDetails(map[string]interface{}{"samplerate": sampleRate, "time": time})
	}
	if !a.started {
		a.start = time
		a.sampleRate = sampleRate
		a.started = true
	} else if sampleRate != a.sampleRate {
		return aeerrors.NewCodecError(aeerrors.CodeSampleRateMismatch, "samplerate changed between records").
			WithDetails(map[string]interface{}{"expected": a.sampleRate, "samplerate": sampleRate, "time": time})
	}

	index := int(math.Round((time - a.start) * float64(a.sampleRate)))
	if index < a.last {
		return aeerrors.NewCodecError(aeerrors.CodeRecordOutOfOrder, "record starts before the previous record").
			WithDetails(map[string]interface{}{"time": time, "index": index, "previous": a.last})
	}
	a.last = index
	if gap := index - len(a.samples); gap > 0 {
		a.samples = append(a.samples, make([]float32, gap)...)
	}
	a.samples = append(a.samples, samples...)
	return nil
}

// Len returns the number of assembled samples.
func (a *Assembler) Len() int { return len(a.samples) }

// SampleRate returns the samplerate of the signal, or 0 before the first Append.
func (a *Assembler) SampleRate() int { return a.sampleRate }

// Start returns the time of the first sample.
func (a *Assembler) Start() float64 { return a.start }

// Slice returns the samples in [timeStart, timeStop). Nil bounds select the
// start or end of the signal; bounds outside it are clamped.
func (a *Assembler) Slice(timeStart, timeStop *float64, timeAxis bool) Continuous {
	if !a.started {
		c := Continuous{Samples: []float32{}}
		if timeAxis {
			c.Time = []float32{}
		}
		return c
	}

	n := len(a.samples)
	lo, hi := 0, n
	if timeStart != nil {
		lo = clamp(a.index(*timeStart), 0, n)
	}
	if timeStop != nil {
		hi = clamp(a.index(*timeStop), lo, n)
	}

	c := Continuous{
		Samples:    append([]float32(nil), a.samples[lo:hi]...),
		SampleRate: a.sampleRate,
		Offset:     a.start + float64(lo)/float64(a.sampleRate),
	}
	if c.Samples == nil {
		c.Samples = []float32{}
	}
	if timeAxis {
		c.Time = make([]float32, hi-lo)
		for i := range c.Time {
			c.Time[i] = float32(a.start + float64(lo+i)/float64(a.sampleRate))
		}
	}
	return c
}

func (a *Assembler) index(t float64) int {
	x := math.Round((t - a.start) * float64(a.sampleRate))
	switch {
	case x > math.MaxInt32:
		return math.MaxInt32
	case x < math.MinInt32:
		return math.MinInt32
	default:
		return int(x)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReadContinuousWave assembles all records of a channel into one signal and
// slices it to the requested time range. Records are taken in SetID order,
// which follows acquisition time and TRAI, so records without a TRAI keep
// their place. A record whose samplerate differs from the first one fails
// with types.ErrSampleRateMismatch.
func (s *Store) ReadContinuousWave(channel int, opts ContinuousOptions) (Continuous, error) {
	it := s.iterate(Query{Channels: []int{channel}, TimeStop: opts.TimeStop}, orderSetID)
	defer it.Close()

	var asm Assembler
	for it.Next() {
		rec := it.Record()
		if err := s.DecodeData(&rec); err != nil {
			return Continuous{}, err
		}
		if err := asm.Append(rec.Time, rec.SampleRate, rec.Data); err != nil {
			log.Printf("tradb: channel %d of %s: record %d (TRAI %d) rejected: %v", channel, s.db.Path(), rec.SetID, rec.TRAI, err)
			return Continuous{}, aeerrors.AddDetails(err, map[string]interface{}{"file": s.db.Path(), "channel": channel, "trai": rec.TRAI})
		}
	}
	if err := it.Err(); err != nil {
		return Continuous{}, err
	}
	return asm.Slice(opts.TimeStart, opts.TimeStop, opts.TimeAxis), nil
}
