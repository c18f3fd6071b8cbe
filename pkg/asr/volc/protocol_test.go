package volc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// containsPayload reports whether want appears among the frame's candidates.
func containsPayload(f Frame, want []byte) bool {
	for _, c := range f.PayloadCandidates {
		if bytes.Equal(c, want) {
			return true
		}
	}
	return false
}

func TestFrameRoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte{0xAB}, 65536)

	tests := []struct {
		name    string
		msgType byte
		flags   byte
		comp    byte
		seq     uint32
		payload []byte
	}{
		{"control no seq", MsgTypeFullClient, FlagNone, CompressionNone, 0, []byte(`{"model":"bigmodel"}`)},
		{"audio with seq", MsgTypeAudioOnly, FlagHasSequence, CompressionNone, 42, []byte{0x01, 0x02, 0x03}},
		{"gzip payload", MsgTypeServerResponse, FlagNone, CompressionGzip, 0, []byte(`{"text":"hello"}`)},
		{"gzip with seq", MsgTypeServerResponse, FlagHasSequence, CompressionGzip, 7, []byte(`{"text":"hello"}`)},
		{"empty payload", MsgTypeAudioOnly, FlagNone, CompressionNone, 0, []byte{}},
		{"empty payload with seq", MsgTypeAudioOnly, FlagHasSequence, CompressionNone, 9, []byte{}},
		{"single byte", MsgTypeAudioOnly, FlagNone, CompressionNone, 0, []byte{0x7F}},
		{"64k payload", MsgTypeAudioOnly, FlagHasSequence, CompressionNone, 1, large},
		{"64k gzip", MsgTypeAudioOnly, FlagNone, CompressionGzip, 0, large},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodeFrame(tc.msgType, tc.flags, SerializationJSON, tc.comp, tc.seq, tc.payload)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}
			f, err := DecodeFrame(raw)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if f.MessageType != tc.msgType {
				t.Fatalf("MessageType = %#x, want %#x", f.MessageType, tc.msgType)
			}
			if f.Flags != tc.flags {
				t.Fatalf("Flags = %#x, want %#x", f.Flags, tc.flags)
			}
			if f.Compression != tc.comp {
				t.Fatalf("Compression = %#x, want %#x", f.Compression, tc.comp)
			}
			if tc.flags&FlagHasSequence != 0 && f.Sequence != tc.seq {
				t.Fatalf("Sequence = %d, want %d", f.Sequence, tc.seq)
			}
			if !containsPayload(f, tc.payload) {
				t.Fatalf("payload not recovered; %d candidates", len(f.PayloadCandidates))
			}
			// The nominal layout must be the first candidate so callers that
			// JSON-decode in order hit the real payload immediately.
			if len(tc.payload) > 0 && !bytes.Equal(f.PayloadCandidates[0], tc.payload) {
				t.Fatalf("first candidate = %d bytes, want the nominal payload", len(f.PayloadCandidates[0]))
			}
		})
	}
}

func TestDecodeFrame_ShortInput(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x11, 0x91}); err == nil {
		t.Fatal("DecodeFrame accepted a 2-byte frame")
	}
}

func TestDecodeFrame_CandidatesDeduplicated(t *testing.T) {
	raw, err := EncodeFrame(MsgTypeServerResponse, FlagNone, SerializationJSON, CompressionNone, 0, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	for i := range f.PayloadCandidates {
		for j := i + 1; j < len(f.PayloadCandidates); j++ {
			if bytes.Equal(f.PayloadCandidates[i], f.PayloadCandidates[j]) {
				t.Fatalf("candidates %d and %d are byte-identical", i, j)
			}
		}
	}
}

func TestDecodeFrame_LegacyLengthOffset(t *testing.T) {
	// Simulate a legacy server that inserts 8 bytes of extra fields between
	// the header and the length-prefixed payload.
	payload := []byte(`{"text":"legacy"}`)
	frame := []byte{
		protocolVersion<<4 | headerSizeWords,
		MsgTypeServerResponse << 4,
		SerializationJSON << 4,
		0x00,
	}
	frame = append(frame, 0, 0, 0, 0, 0, 0, 0, 0) // unknown legacy fields
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	f, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !containsPayload(f, payload) {
		t.Fatalf("legacy-offset payload not among %d candidates", len(f.PayloadCandidates))
	}
}

func TestDecodeFrame_GzipFailureFallsBackToRaw(t *testing.T) {
	// Compression declared but the payload is not gzip — the raw bytes must
	// still be surfaced as a candidate.
	payload := []byte(`{"text":"not actually gzipped"}`)
	frame := []byte{
		protocolVersion<<4 | headerSizeWords,
		MsgTypeServerResponse << 4,
		SerializationJSON<<4 | CompressionGzip,
		0x00,
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	f, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !containsPayload(f, payload) {
		t.Fatal("raw payload not surfaced after gzip failure")
	}
}

func TestDecodeFrame_ErrorFrame(t *testing.T) {
	msg := "insufficient_permissions: model not available"
	frame := []byte{
		protocolVersion<<4 | headerSizeWords,
		MsgTypeError << 4,
		SerializationJSON << 4,
		0x00,
	}
	frame = binary.BigEndian.AppendUint32(frame, 45000031)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(msg)))
	frame = append(frame, msg...)

	f, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.MessageType != MsgTypeError {
		t.Fatalf("MessageType = %#x, want error", f.MessageType)
	}
	if f.ErrorCode != 45000031 {
		t.Fatalf("ErrorCode = %d, want 45000031", f.ErrorCode)
	}
	if f.ErrorMessage != msg {
		t.Fatalf("ErrorMessage = %q, want %q", f.ErrorMessage, msg)
	}
}

func TestDecodeFrame_TruncatedErrorFrame(t *testing.T) {
	frame := []byte{
		protocolVersion<<4 | headerSizeWords,
		MsgTypeError << 4,
		0x00, 0x00,
		0x00, 0x00, // not even a full error code
	}
	f, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.ErrorCode != 0 || f.ErrorMessage != "" {
		t.Fatalf("truncated error decoded to (%d, %q), want zero values", f.ErrorCode, f.ErrorMessage)
	}
}
