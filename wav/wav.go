package wav

// RIFF/WAVE PCM16 Codec
//
// This package handles all WAV byte I/O for the alignment pipeline:
//
// 1. Header Parsing: walks RIFF chunks to locate "fmt " and "data",
//    validating the PCM invariants along the way
// 2. Decoding: turns little-endian 16-bit PCM bytes into int16 samples and
//    normalized float64 samples for correlation work
// 3. Encoding: builds a canonical 44-byte mono PCM16 header around a sample
//    buffer
// 4. File I/O: reads whole files, and writes them atomically (temp file plus
//    rename) so a concurrent reader never observes a half-written WAV
//
// Only uncompressed 16-bit PCM is supported; everything else is reported
// through the ErrMalformed / ErrUnsupportedFormat sentinels.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

var (
	// ErrMalformed reports bytes that violate the RIFF/WAVE structure.
	ErrMalformed = errors.New("malformed wav data")
	// ErrUnsupportedFormat reports valid WAV audio this codec cannot decode.
	ErrUnsupportedFormat = errors.New("unsupported wav format")
)

const headerSize = 44

// Info describes the format and data location of a parsed WAV buffer.
type Info struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int
	DataSize      int
}

// PCMAudio is the canonical in-memory representation of mono PCM16 audio.
type PCMAudio struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Samples       []int16
}

// Duration returns the audio length in seconds.
func (p PCMAudio) Duration() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate*p.Channels)
}

// Floats returns the samples normalized to [-1, 1).
func (p PCMAudio) Floats() []float64 {
	const scale = 1.0 / 32768.0
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = float64(s) * scale
	}
	return out
}

// FloatsToPCM16 quantizes normalized float samples to int16 using
// round(clamp(x, -1, 1) * 32767).
func FloatsToPCM16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(math.Round(s * 32767))
	}
	return out
}

// ParseHeader validates the RIFF/WAVE structure and locates the fmt and data
// chunks. Chunk traversal pads odd-sized chunks to even byte boundaries per
// the RIFF spec.
func ParseHeader(data []byte) (Info, error) {
	if len(data) < 12 {
		return Info{}, fmt.Errorf("%w: %d bytes is too short for a RIFF header", ErrMalformed, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformed)
	}

	var info Info
	haveFmt := false
	haveData := false

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return Info{}, fmt.Errorf("%w: fmt chunk truncated", ErrMalformed)
			}
			audioFormat := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if audioFormat != 1 {
				return Info{}, fmt.Errorf("%w: audio format %d is not PCM", ErrMalformed, audioFormat)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if body+chunkSize > len(data) {
				return Info{}, fmt.Errorf("%w: data chunk of %d bytes extends past buffer", ErrMalformed, chunkSize)
			}
			info.DataOffset = body
			info.DataSize = chunkSize
			haveData = true
		}

		if haveFmt && haveData {
			break
		}

		advance := chunkSize
		if advance%2 != 0 {
			advance++
		}
		offset = body + advance
	}

	if !haveFmt || !haveData {
		return Info{}, fmt.Errorf("%w: missing fmt or data chunk", ErrMalformed)
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return Info{}, fmt.Errorf("%w: invalid channel count or sample rate", ErrMalformed)
	}

	return info, nil
}

// Decode parses the header and extracts the PCM16 samples.
func Decode(data []byte) (PCMAudio, error) {
	info, err := ParseHeader(data)
	if err != nil {
		return PCMAudio{}, err
	}
	if info.BitsPerSample != 16 {
		return PCMAudio{}, fmt.Errorf("%w: %d bits per sample (expect 16)", ErrUnsupportedFormat, info.BitsPerSample)
	}

	raw := data[info.DataOffset : info.DataOffset+info.DataSize]
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
	}

	return PCMAudio{
		SampleRate:    info.SampleRate,
		Channels:      info.Channels,
		BitsPerSample: 16,
		Samples:       samples,
	}, nil
}

// DecodeSamples parses and decodes in one step, returning normalized floats.
func DecodeSamples(data []byte) ([]float64, Info, error) {
	pcm, err := Decode(data)
	if err != nil {
		return nil, Info{}, err
	}
	info := Info{
		Channels:      pcm.Channels,
		SampleRate:    pcm.SampleRate,
		BitsPerSample: pcm.BitsPerSample,
	}
	return pcm.Floats(), info, nil
}

// EncodePCM16Mono builds a complete mono PCM16 WAV byte buffer with a fixed
// 44-byte header around the given samples.
func EncodePCM16Mono(samples []int16, sampleRate int) []byte {
	const channels = 1
	dataSize := len(samples) * 2
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], channels*2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:headerSize+2*i+2], uint16(s))
	}

	return buf
}

// ReadFile reads and decodes a WAV file.
func ReadFile(path string) (PCMAudio, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PCMAudio{}, fmt.Errorf("failed to read wav file: %w", err)
	}
	return Decode(data)
}

// WriteFile encodes the audio and writes it atomically: the bytes go to a
// temporary file in the destination directory first, then an os.Rename makes
// them visible in one step.
func WriteFile(path string, pcm PCMAudio) error {
	if pcm.Channels > 1 {
		return fmt.Errorf("%w: %d channels (expect mono)", ErrUnsupportedFormat, pcm.Channels)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	data := EncodePCM16Mono(pcm.Samples, pcm.SampleRate)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
