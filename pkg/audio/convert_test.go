package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/saytext/saytext/pkg/types"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestNormalize_NoOpWhenFormatsMatch(t *testing.T) {
	src := pcm16(100, -200, 300)
	f := types.AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

	out, err := Normalize(src, f, f)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if &out[0] != &src[0] {
		t.Fatalf("expected input slice returned unchanged on matching formats")
	}
}

func TestNormalize_OddByteCountRejected(t *testing.T) {
	f := types.AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if _, err := Normalize([]byte{0x01}, f, f); err == nil {
		t.Fatalf("expected error for odd byte count")
	}
}

func TestNormalize_StereoHighRateToMonoLowRate(t *testing.T) {
	// 4 stereo frames at 32kHz down to mono 16kHz: expect 2 mono samples.
	src := pcm16(
		1000, 1000,
		2000, 2000,
		3000, 3000,
		4000, 4000,
	)
	from := types.AudioFormat{SampleRate: 32000, Channels: 2, BitDepth: 16}
	to := types.AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

	out, err := Normalize(src, from, to)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 2 mono samples (4 bytes), got %d bytes", len(out))
	}
}

func TestMonoToStereo(t *testing.T) {
	out := MonoToStereo(pcm16(500, -500))
	want := pcm16(500, 500, -500, -500)
	if !bytes.Equal(out, want) {
		t.Fatalf("MonoToStereo = %v, want %v", out, want)
	}
}

func TestStereoToMono_AveragesAndClamps(t *testing.T) {
	out := StereoToMono(pcm16(1000, 3000))
	if got := int16(binary.LittleEndian.Uint16(out)); got != 2000 {
		t.Fatalf("average = %d, want 2000", got)
	}

	out = StereoToMono(pcm16(-32768, -32768))
	if got := int16(binary.LittleEndian.Uint16(out)); got != -32768 {
		t.Fatalf("clamped average = %d, want -32768", got)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	src := pcm16(0, 1000, 2000, 3000)
	out := ResampleMono16(src, 32000, 16000)
	if len(out) != 4 {
		t.Fatalf("expected 2 samples, got %d bytes", len(out))
	}
	s0 := int16(binary.LittleEndian.Uint16(out))
	s1 := int16(binary.LittleEndian.Uint16(out[2:]))
	if s0 != 0 || s1 != 2000 {
		t.Fatalf("downsample picked %d,%d; want 0,2000", s0, s1)
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	src := pcm16(1, 2, 3)
	out := ResampleMono16(src, 16000, 16000)
	if &out[0] != &src[0] {
		t.Fatalf("expected input returned unchanged at equal rates")
	}
}

func TestResampleMono16_UpsampleInterpolates(t *testing.T) {
	src := pcm16(0, 1000)
	out := ResampleMono16(src, 8000, 16000)
	if len(out) != 8 {
		t.Fatalf("expected 4 samples, got %d bytes", len(out))
	}
	s1 := int16(binary.LittleEndian.Uint16(out[2:]))
	if s1 != 500 {
		t.Fatalf("interpolated sample = %d, want 500", s1)
	}
}
