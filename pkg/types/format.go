package types

import "fmt"

// DataFormat is the encoding tag stored next to every waveform blob.
// The numeric values are part of the file format.
type DataFormat int

const (
	// DataFormatRaw stores samples as signed 16-bit little-endian ADC values.
	// Writing a record with this tag leaves the choice of encoding to the store.
	DataFormatRaw DataFormat = 0
	// DataFormatFLAC stores the ADC values as a FLAC stream.
	DataFormatFLAC DataFormat = 2
)

// String returns the human-readable name of a data format.
func (f DataFormat) String() string {
	switch f {
	case DataFormatRaw:
		return "raw"
	case DataFormatFLAC:
		return "flac"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}
