package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/aewave/aewave/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_RawRoundTripWithinOneStep checks that quantized samples decode
// to within one ADC step of the input.
func TestProperty_RawRoundTripWithinOneStep(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(x)) is within one ADC step of x", prop.ForAll(
		func(fractions []float64, factorMillivolts float64) bool {
			step := factorMillivolts * 1e-3
			samples := make([]float32, len(fractions))
			for i, f := range fractions {
				samples[i] = float32(f * 32000 * step)
			}

			blob, err := Encode(samples, types.DataFormatRaw, factorMillivolts)
			if err != nil {
				return false
			}
			got, err := Decode(blob, types.DataFormatRaw, factorMillivolts)
			if err != nil || len(got) != len(samples) {
				return false
			}
			for i := range samples {
				if math.Abs(float64(got[i]-samples[i])) > step {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-1, 1)),
		gen.Float64Range(0.05, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_FLACMatchesRaw checks that the compressed path reproduces the
// raw path bit for bit.
func TestProperty_FLACMatchesRaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FLAC decodes to the same ADC values as raw", prop.ForAll(
		func(adc []int16) bool {
			rawBlob, err := EncodeADC(adc, types.DataFormatRaw)
			if err != nil {
				return false
			}
			flacBlob, err := EncodeADC(adc, types.DataFormatFLAC)
			if err != nil {
				return false
			}
			fromRaw, err := DecodeADC(rawBlob, types.DataFormatRaw)
			if err != nil {
				return false
			}
			fromFLAC, err := DecodeADC(flacBlob, types.DataFormatFLAC)
			if err != nil || len(fromRaw) != len(fromFLAC) || len(fromRaw) != len(adc) {
				return false
			}
			for i := range adc {
				if fromRaw[i] != adc[i] || fromFLAC[i] != adc[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int16()),
	))

	properties.Property("FLAC and raw decode to identical volts", prop.ForAll(
		func(fractions []float64) bool {
			samples := make([]float32, len(fractions))
			for i, f := range fractions {
				samples[i] = float32(f)
			}
			rawBlob, err := Encode(samples, types.DataFormatRaw, 1)
			if err != nil {
				return false
			}
			flacBlob, err := Encode(samples, types.DataFormatFLAC, 1)
			if err != nil {
				return false
			}
			a, err := Decode(rawBlob, types.DataFormatRaw, 1)
			if err != nil {
				return false
			}
			b, err := Decode(flacBlob, types.DataFormatFLAC, 1)
			if err != nil || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-40, 40)),
	))

	properties.TestingRun(t)
}

// TestProperty_StoredBlobIsStable checks that decoding a stored blob and
// encoding it again with the same step yields the same bytes.
func TestProperty_StoredBlobIsStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode(decode(blob)) == blob", prop.ForAll(
		func(adc []int16, factorMillivolts float64) bool {
			blob, err := EncodeADC(adc, types.DataFormatRaw)
			if err != nil {
				return false
			}
			volts, err := Decode(blob, types.DataFormatRaw, factorMillivolts)
			if err != nil {
				return false
			}
			again, err := Encode(volts, types.DataFormatRaw, factorMillivolts)
			if err != nil {
				return false
			}
			return bytes.Equal(blob, again)
		},
		gen.SliceOf(gen.Int16()),
		gen.Float64Range(0.05, 5),
	))

	properties.TestingRun(t)
}
