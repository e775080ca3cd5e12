// Package features computes acoustic emission hit features from transient
// waveforms.
//
// Samples are in volts. Energy is reported in eu (1 eu = 1e-14 V²s) and
// signal strength in nVs, matching the units of pridb hit rows.
package features

import "math"

// ReferenceAE is the reference amplitude of dB(AE), 1 µV.
const ReferenceAE = 1e-6

// PeakAmplitude returns the largest absolute sample.
func PeakAmplitude(data []float32) float64 {
	var peak float64
	for _, v := range data {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakAmplitudeIndex returns the index of the first largest absolute sample.
func PeakAmplitudeIndex(data []float32) int {
	var peak float64
	index := 0
	for i, v := range data {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
			index = i
		}
	}
	return index
}

// IsAboveThreshold reports whether any absolute sample reaches threshold.
func IsAboveThreshold(data []float32, threshold float64) bool {
	_, ok := FirstThresholdCrossing(data, threshold)
	return ok
}

// FirstThresholdCrossing returns the index of the first sample whose
// absolute value reaches threshold.
func FirstThresholdCrossing(data []float32, threshold float64) (int, bool) {
	for i, v := range data {
		if math.Abs(float64(v)) >= threshold {
			return i, true
		}
	}
	return 0, false
}

// RiseTime returns the time from the first threshold crossing to the peak
// in seconds. It is 0 when the threshold is never reached.
func RiseTime(data []float32, threshold float64, sampleRate int) float64 {
	first, ok := FirstThresholdCrossing(data, threshold)
	if !ok || sampleRate <= 0 {
		return 0
	}
	return float64(PeakAmplitudeIndex(data)-first) / float64(sampleRate)
}

// Energy returns the integral of the squared signal over time in eu.
func Energy(data []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += float64(v) * float64(v)
	}
	return sum * 1e14 / float64(sampleRate)
}

// SignalStrength returns the integral of the rectified signal over time in
// nVs.
func SignalStrength(data []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += math.Abs(float64(v))
	}
	return sum * 1e9 / float64(sampleRate)
}

// Counts returns the number of positive threshold crossings.
func Counts(data []float32, threshold float64) int {
	n := 0
	above := false
	for _, v := range data {
		if float64(v) >= threshold {
			if !above {
				n++
				above = true
			}
		} else {
			above = false
		}
	}
	return n
}

// RMS returns the root mean square of data, 0 for no samples.
func RMS(data []float32) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(data)))
}

// AmplitudeToDB converts volts to dB relative to reference.
func AmplitudeToDB(amplitude, reference float64) float64 {
	return 20 * math.Log10(amplitude/reference)
}

// DBToAmplitude converts dB relative to reference to volts.
func DBToAmplitude(db, reference float64) float64 {
	return reference * math.Pow(10, db/20)
}
