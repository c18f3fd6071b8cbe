// Package volc implements an ASR provider speaking a Volcengine-style
// binary-framed WebSocket protocol: 4-byte header, optional big-endian
// sequence number, length-prefixed payload, optional gzip compression.
//
// The wire format is externally controlled and under-specified — real
// servers have been observed placing the length field at more than one
// offset depending on API generation and whether a sequence number is
// present. Frame decoding therefore returns every structurally valid payload
// candidate and lets the caller attempt JSON decoding in order, instead of
// betting on a single layout.
package volc

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol constants. The header packs two 4-bit fields per byte.
const (
	protocolVersion = 0x1
	headerSizeWords = 0x1 // header length in 4-byte words

	// Message types (high nibble of byte 1).
	MsgTypeFullClient     = 0x1 // control/config request
	MsgTypeAudioOnly      = 0x2 // audio data frame
	MsgTypeServerResponse = 0x9 // recognition result
	MsgTypeError          = 0xF // server error report

	// Flags (low nibble of byte 1).
	FlagNone        = 0x0
	FlagHasSequence = 0x1 // a 4-byte big-endian sequence number follows the header
	FlagLastPacket  = 0x2 // end-of-stream marker on audio frames

	// Serialization methods (high nibble of byte 2).
	SerializationNone = 0x0
	SerializationJSON = 0x1

	// Compression methods (low nibble of byte 2).
	CompressionNone = 0x0
	CompressionGzip = 0x1
)

// ErrShortFrame is returned when a frame is too small to carry a header.
var ErrShortFrame = errors.New("volc: frame shorter than header")

// Frame is a decoded inbound frame.
type Frame struct {
	MessageType   byte
	Flags         byte
	Serialization byte
	Compression   byte

	// Sequence is the big-endian sequence number, present only when
	// Flags&FlagHasSequence is set.
	Sequence uint32

	// PayloadCandidates holds every structurally valid payload read, in
	// offset order, deduplicated by byte equality and already decompressed
	// when Compression is gzip (raw bytes are kept when decompression
	// fails). Callers try JSON-decoding each in turn.
	PayloadCandidates [][]byte

	// ErrorCode and ErrorMessage are populated for MsgTypeError frames.
	ErrorCode    uint32
	ErrorMessage string
}

// EncodeFrame builds an outbound frame. The sequence number is written only
// when flags has FlagHasSequence set. When compression is CompressionGzip
// the payload is gzip-compressed before framing.
func EncodeFrame(messageType, flags, serialization, compression byte, sequence uint32, payload []byte) ([]byte, error) {
	body := payload
	if compression == CompressionGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("volc: compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("volc: compress payload: %w", err)
		}
		body = buf.Bytes()
	}

	size := 4 + 4 + len(body)
	if flags&FlagHasSequence != 0 {
		size += 4
	}
	frame := make([]byte, 0, size)
	frame = append(frame,
		protocolVersion<<4|headerSizeWords,
		messageType<<4|flags&0x0F,
		serialization<<4|compression&0x0F,
		0x00, // reserved
	)
	if flags&FlagHasSequence != 0 {
		frame = binary.BigEndian.AppendUint32(frame, sequence)
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	return append(frame, body...), nil
}

// DecodeFrame parses an inbound frame. For server responses it collects all
// structurally valid payload candidates (see Frame.PayloadCandidates); for
// error frames it performs a fixed-offset read of code and message.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, ErrShortFrame
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || headerSize > len(data) {
		headerSize = 4
	}

	f := Frame{
		MessageType:   data[1] >> 4,
		Flags:         data[1] & 0x0F,
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0F,
	}

	offset := headerSize
	if f.Flags&FlagHasSequence != 0 && len(data) >= headerSize+4 {
		f.Sequence = binary.BigEndian.Uint32(data[headerSize : headerSize+4])
		offset = headerSize + 4
	}

	if f.MessageType == MsgTypeError {
		f.ErrorCode, f.ErrorMessage = decodeError(data, offset)
		return f, nil
	}

	for _, candOffset := range candidateOffsets(headerSize, f.Flags&FlagHasSequence != 0) {
		payload, ok := payloadAt(data, candOffset)
		if !ok {
			continue
		}
		payload = maybeGunzip(payload, f.Compression)
		if !containsCandidate(f.PayloadCandidates, payload) {
			f.PayloadCandidates = append(f.PayloadCandidates, payload)
		}
	}
	return f, nil
}

// candidateOffsets lists the offsets at which the 4-byte payload length has
// been observed, in try order: the nominal position first, then the legacy
// layouts with extra leading fields. When a sequence number is present the
// nominal position shifts past it and the off-by-one variants seen in older
// servers are also tried.
func candidateOffsets(headerSize int, hasSequence bool) []int {
	if hasSequence {
		return []int{
			headerSize + 4, headerSize + 8, headerSize + 12, headerSize,
			headerSize + 5, headerSize + 1,
		}
	}
	return []int{headerSize, headerSize + 4, headerSize + 8, headerSize + 12}
}

// payloadAt reads a length-prefixed payload at offset. The declared length
// must fit inside the frame; a zero length is accepted only when the length
// field sits exactly at the end of the frame (an empty flush frame).
func payloadAt(data []byte, offset int) ([]byte, bool) {
	if offset < 0 || offset+4 > len(data) {
		return nil, false
	}
	declared := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	if declared == 0 {
		if offset+4 == len(data) {
			return []byte{}, true
		}
		return nil, false
	}
	if declared < 0 || declared >= len(data) || offset+4+declared > len(data) {
		return nil, false
	}
	return data[offset+4 : offset+4+declared], true
}

// maybeGunzip decompresses payload when the frame declares gzip compression.
// Decompression failure is non-fatal: the raw candidate is returned so the
// caller can still attempt to use it.
func maybeGunzip(payload []byte, compression byte) []byte {
	if compression != CompressionGzip {
		return payload
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return payload
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return payload
	}
	return out
}

// decodeError reads an error frame body: 4-byte code, 4-byte message length,
// UTF-8 message. Unlike result payloads this is a fixed-offset read.
func decodeError(data []byte, offset int) (code uint32, message string) {
	if offset+8 > len(data) {
		return 0, ""
	}
	code = binary.BigEndian.Uint32(data[offset : offset+4])
	msgLen := int(binary.BigEndian.Uint32(data[offset+4 : offset+8]))
	end := offset + 8 + msgLen
	if msgLen < 0 || end > len(data) {
		end = len(data)
	}
	return code, string(data[offset+8 : end])
}

func containsCandidate(candidates [][]byte, payload []byte) bool {
	for _, c := range candidates {
		if bytes.Equal(c, payload) {
			return true
		}
	}
	return false
}
