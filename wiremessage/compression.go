package wiremessage

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressorID identifies a negotiated compression algorithm, matching the
// server's wire values (spec.md §4.1/§6).
type CompressorID uint8

const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

func (c CompressorID) Name() string {
	switch c {
	case CompressorSnappy:
		return "snappy"
	case CompressorZlib:
		return "zlib"
	case CompressorZstd:
		return "zstd"
	default:
		return "noop"
	}
}

func CompressorIDByName(name string) (CompressorID, bool) {
	switch name {
	case "snappy":
		return CompressorSnappy, true
	case "zlib":
		return CompressorZlib, true
	case "zstd":
		return CompressorZstd, true
	default:
		return CompressorNoop, false
	}
}

// zstdEncoder/zstdDecoder are expensive to construct, so one pair is shared
// process-wide (mirrors the teacher's per-connection compressor reuse,
// generalized to the process since zstd's encoder/decoder are safe for
// concurrent Encode/Decode calls).
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// CompressPayload compresses an uncompressed OP_MSG payload (everything
// after the original 16-byte header) using the given algorithm.
func CompressPayload(id CompressorID, payload []byte) ([]byte, error) {
	switch id {
	case CompressorSnappy:
		return snappy.Encode(nil, payload), nil
	case CompressorZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		return zstdEncoder.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor %d", id)
	}
}

// DecompressPayload reverses CompressPayload, growing dst to uncompressedSize.
func DecompressPayload(id CompressorID, compressed []byte, uncompressedSize int) ([]byte, error) {
	switch id {
	case CompressorSnappy:
		return snappy.Decode(make([]byte, 0, uncompressedSize), compressed)
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		return zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	default:
		return nil, fmt.Errorf("wiremessage: unknown compressor %d", id)
	}
}

// EncodeCompressed wraps an already-built OP_MSG wire message (including
// its header) in OP_COMPRESSED using the given algorithm.
func EncodeCompressed(wm []byte, id CompressorID) ([]byte, error) {
	hdr, body, err := ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	payload := body[:hdr.MessageLength-headerLen]

	compressed, err := CompressPayload(id, payload)
	if err != nil {
		return nil, err
	}

	idx, dst := AppendHeader(nil, hdr.RequestID, hdr.ResponseTo, OpCompressed)
	dst = appendi32(dst, int32(hdr.OpCode))
	dst = appendi32(dst, int32(len(payload)))
	dst = append(dst, byte(id))
	dst = append(dst, compressed...)
	return UpdateLength(dst, idx), nil
}

// DecodeCompressed reverses EncodeCompressed: body is the bytes following
// the 16-byte OP_COMPRESSED header.
func DecodeCompressed(body []byte) (origOpcode OpCode, payload []byte, err error) {
	if len(body) < 9 {
		return 0, nil, fmt.Errorf("%w: OP_COMPRESSED truncated", ErrInvalidResponse)
	}
	origOpcode = OpCode(readi32(body[0:4]))
	uncompressedSize := int(readi32(body[4:8]))
	id := CompressorID(body[8])
	compressed := body[9:]

	payload, err = DecompressPayload(id, compressed, uncompressedSize)
	return origOpcode, payload, err
}
