// Package codec converts waveform samples to and from the blobs stored in the
// Data column of a tradb file.
//
// Samples are kept as 16-bit ADC values. The ADC step in millivolts (TR_mV of
// the parameter row) scales them to volts:
//
//	volts = adc * 1e-3 * TR_mV
//
// The data format tag selects the byte layout of the blob:
//   - DataFormatRaw:  signed 16-bit little-endian values, 2 bytes per sample
//   - DataFormatFLAC: a FLAC stream with one 16-bit channel
package codec

import (
	"encoding/binary"
	"math"

	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/types"
)

// Compressor is the lossless compression collaborator used for DataFormatFLAC.
// Decode(Encode(x)) must return x unchanged.
type Compressor interface {
	Encode(adc []int16) ([]byte, error)
	Decode(blob []byte) ([]int16, error)
}

// Codec encodes and decodes blobs for every supported data format.
type Codec struct {
	compressor Compressor
}

// New returns a Codec using c for compressed blobs. A nil c selects FLAC.
func New(c Compressor) *Codec {
	if c == nil {
		c = FLAC{}
	}
	return &Codec{compressor: c}
}

var std = New(nil)

// Encode quantizes volts and encodes them with the default codec.
func Encode(samples []float32, format types.DataFormat, factorMillivolts float64) ([]byte, error) {
	return std.Encode(samples, format, factorMillivolts)
}

// Decode decodes a blob to volts with the default codec.
func Decode(blob []byte, format types.DataFormat, factorMillivolts float64) ([]float32, error) {
	return std.Decode(blob, format, factorMillivolts)
}

// EncodeADC encodes ADC values with the default codec.
func EncodeADC(adc []int16, format types.DataFormat) ([]byte, error) {
	return std.EncodeADC(adc, format)
}

// DecodeADC decodes a blob to ADC values with the default codec.
func DecodeADC(blob []byte, format types.DataFormat) ([]int16, error) {
	return std.DecodeADC(blob, format)
}

// Encode quantizes volts to ADC values and encodes them.
func (c *Codec) Encode(samples []float32, format types.DataFormat, factorMillivolts float64) ([]byte, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	return c.EncodeADC(Quantize(samples, factorMillivolts), format)
}

// Decode decodes a blob and scales the ADC values to volts.
func (c *Codec) Decode(blob []byte, format types.DataFormat, factorMillivolts float64) ([]float32, error) {
	adc, err := c.DecodeADC(blob, format)
	if err != nil {
		return nil, err
	}
	return Scale(adc, factorMillivolts), nil
}

// EncodeADC encodes ADC values without scaling.
func (c *Codec) EncodeADC(adc []int16, format types.DataFormat) ([]byte, error) {
	switch format {
	case types.DataFormatRaw:
		buf := make([]byte, 2*len(adc))
		for i, v := range adc {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
		}
		return buf, nil

	case types.DataFormatFLAC:
		blob, err := c.compressor.Encode(adc)
		if err != nil {
			return nil, aeerrors.Wrap(aeerrors.ErrCategoryCodec, aeerrors.CodeCorruptBlob, "failed to compress samples", err).
				WithDetails(map[string]interface{}{"format": format.String(), "samples": len(adc)})
		}
		return blob, nil

	default:
		return nil, unsupported(format)
	}
}

// DecodeADC decodes a blob to ADC values without scaling.
func (c *Codec) DecodeADC(blob []byte, format types.DataFormat) ([]int16, error) {
	switch format {
	case types.DataFormatRaw:
		if len(blob)%2 != 0 {
			return nil, aeerrors.NewCodecError(aeerrors.CodeCorruptBlob, "raw blob length must be a multiple of 2").
				WithDetails(map[string]interface{}{"format": format.String(), "bytes": len(blob)})
		}
		adc := make([]int16, len(blob)/2)
		for i := range adc {
			adc[i] = int16(binary.LittleEndian.Uint16(blob[2*i:]))
		}
		return adc, nil

	case types.DataFormatFLAC:
		adc, err := c.compressor.Decode(blob)
		if err != nil {
			return nil, aeerrors.Wrap(aeerrors.ErrCategoryCodec, aeerrors.CodeCorruptBlob, "failed to decompress samples", err).
				WithDetails(map[string]interface{}{"format": format.String(), "bytes": len(blob)})
		}
		return adc, nil

	default:
		return nil, unsupported(format)
	}
}

// Quantize converts volts to ADC values: the product with 1e3/TR_mV is
// clipped to the int16 range and rounded half up. NaN maps to 0.
func Quantize(samples []float32, factorMillivolts float64) []int16 {
	scale := float32(1e3 / factorMillivolts)
	adc := make([]int16, len(samples))
	for i, v := range samples {
		x := v * scale
		switch {
		case x != x:
			x = 0
		case x > math.MaxInt16:
			x = math.MaxInt16
		case x < math.MinInt16:
			x = math.MinInt16
		}
		adc[i] = int16(math.Floor(float64(x) + 0.5))
	}
	return adc
}

// Scale converts ADC values to volts.
func Scale(adc []int16, factorMillivolts float64) []float32 {
	step := float32(1e-3 * factorMillivolts)
	out := make([]float32, len(adc))
	for i, v := range adc {
		out[i] = float32(v) * step
	}
	return out
}

func checkFormat(format types.DataFormat) error {
	switch format {
	case types.DataFormatRaw, types.DataFormatFLAC:
		return nil
	default:
		return unsupported(format)
	}
}

func unsupported(format types.DataFormat) error {
	return aeerrors.NewCodecError(aeerrors.CodeUnsupportedFormat, "data format not supported").
		WithDetails(map[string]interface{}{"format": int(format)})
}
