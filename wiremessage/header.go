// Package wiremessage implements the Wire Codec component of spec.md §4.1:
// OP_MSG framing, the document-sequence (type-1) section, and transparent
// OP_COMPRESSED wrapping/unwrapping. Grounded on the teacher's
// core/connection/connection.go compress/uncompress pair and
// driverx/driver.go's decodeResult, generalized from OP_REPLY/OP_QUERY to
// OP_MSG as the sole modern opcode (spec.md §6).
package wiremessage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// OpCode identifies the wire-message opcode in the 16-byte header.
type OpCode int32

const (
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
	OpQuery      OpCode = 2004 // legacy-hello fallback only, spec.md §6
	OpReply      OpCode = 1
)

func (c OpCode) String() string {
	switch c {
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	case OpQuery:
		return "OP_QUERY"
	case OpReply:
		return "OP_REPLY"
	default:
		return fmt.Sprintf("OpCode(%d)", int32(c))
	}
}

// MsgFlag holds the OP_MSG flag bits spec.md §6 names.
type MsgFlag uint32

const (
	ChecksumPresent MsgFlag = 0x1
	MoreToCome      MsgFlag = 0x2
	ExhaustAllowed  MsgFlag = 1 << 16
)

// SectionType identifies an OP_MSG body section.
type SectionType byte

const (
	SingleDocument  SectionType = 0
	DocumentSequence SectionType = 1
)

const headerLen = 16

// ErrInvalidResponse is returned on malformed length, truncation, or an
// unknown opcode (spec.md §4.1).
var ErrInvalidResponse = errors.New("wiremessage: invalid response")

var requestIDCounter int32

// NextRequestID returns a process-unique, monotonically increasing
// requestId for correlating a reply to its request.
func NextRequestID() int32 {
	return atomic.AddInt32(&requestIDCounter, 1)
}

// Header is the 16-byte wire-message header common to every opcode.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32 // must equal the request's RequestID (spec.md §5, "replies correspond one-to-one")
	OpCode        OpCode
}

// AppendHeader appends a zero-valued length placeholder header (to be
// patched by UpdateLength once the message is complete) and returns the
// index of the length field.
func AppendHeader(dst []byte, requestID, responseTo int32, opcode OpCode) (idx int32, out []byte) {
	idx = int32(len(dst))
	dst = appendi32(dst, 0)
	dst = appendi32(dst, requestID)
	dst = appendi32(dst, responseTo)
	dst = appendi32(dst, int32(opcode))
	return idx, dst
}

// UpdateLength patches the length field at idx with len(dst[idx:]).
func UpdateLength(dst []byte, idx int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:], uint32(len(dst)-int(idx)))
	return dst
}

// ReadHeader parses a 16-byte header prefix off src.
func ReadHeader(src []byte) (Header, []byte, error) {
	if len(src) < headerLen {
		return Header{}, src, fmt.Errorf("%w: header truncated, have %d bytes", ErrInvalidResponse, len(src))
	}
	h := Header{
		MessageLength: readi32(src[0:4]),
		RequestID:     readi32(src[4:8]),
		ResponseTo:    readi32(src[8:12]),
		OpCode:        OpCode(readi32(src[12:16])),
	}
	if h.MessageLength < headerLen || int(h.MessageLength) > len(src) {
		return h, src, fmt.Errorf("%w: malformed length %d (have %d bytes)", ErrInvalidResponse, h.MessageLength, len(src))
	}
	return h, src[headerLen:], nil
}

func appendi32(dst []byte, v int32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readi32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}
