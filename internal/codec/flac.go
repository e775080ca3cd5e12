package codec

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16

	// Blobs are written with a nominal rate of 1 Hz. The real samplerate is a
	// column of the record row.
	flacSampleRate = 1
)

// FLAC compresses ADC values as a mono 16-bit FLAC stream.
// Frames use verbatim subframes, so the stream decodes with any FLAC reader.
type FLAC struct{}

// Encode writes adc as a FLAC stream.
func (FLAC) Encode(adc []int16) ([]byte, error) {
	raw := make([]byte, 2*len(adc))
	for i, v := range adc {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    flacSampleRate,
		NChannels:     1,
		BitsPerSample: flacBitsPerSample,
		NSamples:      uint64(len(adc)),
		MD5sum:        md5.Sum(raw),
	}

	var buf bytes.Buffer
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("flac: create encoder: %w", err)
	}

	for num, start := uint64(0), 0; start < len(adc); num, start = num+1, start+flacBlockSize {
		end := start + flacBlockSize
		if end > len(adc) {
			end = len(adc)
		}
		samples := make([]int32, end-start)
		for i, v := range adc[start:end] {
			samples[i] = int32(v)
		}
		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(len(samples)),
				SampleRate:        flacSampleRate,
				Channels:          frame.ChannelsMono,
				BitsPerSample:     flacBitsPerSample,
				Num:               num,
			},
			Subframes: []*frame.Subframe{{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
				NSamples:  len(samples),
			}},
		}
		if err := enc.WriteFrame(f); err != nil {
			return nil, fmt.Errorf("flac: write frame %d: %w", num, err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flac: close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a mono 16-bit FLAC stream back to ADC values.
func (FLAC) Decode(blob []byte) ([]int16, error) {
	stream, err := flac.New(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("flac: parse stream: %w", err)
	}
	defer stream.Close()

	if stream.Info.NChannels != 1 || stream.Info.BitsPerSample != flacBitsPerSample {
		return nil, fmt.Errorf("flac: expected mono 16-bit stream, got %d channels at %d bits",
			stream.Info.NChannels, stream.Info.BitsPerSample)
	}

	size := stream.Info.NSamples
	if size > 1<<24 {
		size = 0
	}
	adc := make([]int16, 0, size)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac: parse frame: %w", err)
		}
		for _, v := range f.Subframes[0].Samples {
			adc = append(adc, int16(v))
		}
	}
	if stream.Info.NSamples != 0 && uint64(len(adc)) != stream.Info.NSamples {
		return nil, fmt.Errorf("flac: decoded %d samples, header announces %d", len(adc), stream.Info.NSamples)
	}
	return adc, nil
}
