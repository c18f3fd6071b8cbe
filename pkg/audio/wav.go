package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/saytext/saytext/pkg/types"
)

// BuildWAV wraps raw little-endian int16 PCM in a WAV container.
func BuildWAV(pcm []byte, format types.AudioFormat) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in int16 PCM", len(pcm))
	}
	if format == (types.AudioFormat{}) {
		format = types.DefaultFormat
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}

	var out seekableBuffer
	enc := wav.NewEncoder(&out, format.SampleRate, 16, format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return out.data, nil
}

// DecodeWAV extracts int16 PCM and its format from a WAV container.
func DecodeWAV(data []byte) ([]byte, types.AudioFormat, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, types.AudioFormat{}, errors.New("audio: not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, types.AudioFormat{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	format := types.AudioFormat{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   16,
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, format, nil
}

// seekableBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch chunk sizes on Close.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("audio: bad seek whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("audio: seek before start")
	}
	b.pos = int(next)
	return next, nil
}
