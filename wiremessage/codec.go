package wiremessage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// nonCompressibleCommands excludes handshake and authentication commands
// from compression (spec.md §4.1), mirroring the teacher's canCompress list
// in core/connection/connection.go, generalized to OP_MSG's first-key
// lookup.
var nonCompressibleCommands = map[string]bool{
	"hello":            true,
	"ismaster":         true,
	"isMaster":         true,
	"saslStart":        true,
	"saslContinue":     true,
	"getnonce":         true,
	"authenticate":     true,
	"createUser":       true,
	"updateUser":       true,
	"copydbSaslStart":  true,
	"copydbgetnonce":   true,
	"copydb":           true,
}

// IsCompressible reports whether a command with the given first key may be
// compressed.
func IsCompressible(firstKey string) bool {
	return !nonCompressibleCommands[firstKey]
}

// Codec implements encode/decode per spec.md §4.1.
type Codec struct {
	// Compressors is the negotiated, ordered list; the first is used for
	// outgoing compression per spec.md §4.1 ("wrap ... with the first
	// negotiated algorithm").
	Compressors []CompressorID
}

// Encode builds an OP_MSG (optionally OP_COMPRESSED-wrapped) wire message
// for the given command body and document sequences.
func (c Codec) Encode(requestID int32, body bsoncore.Document, sequences ...DocumentSequence) ([]byte, error) {
	firstKey, err := firstKeyOf(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	wm := EncodeMsg(nil, requestID, Msg{Body: body, Sequences: sequences})

	if len(c.Compressors) == 0 || !IsCompressible(firstKey) {
		return wm, nil
	}
	return EncodeCompressed(wm, c.Compressors[0])
}

// Decode parses a reply wire message, transparently decompressing
// OP_COMPRESSED payloads (spec.md §4.1).
func (c Codec) Decode(wm []byte) (Msg, error) {
	hdr, body, err := ReadHeader(wm)
	if err != nil {
		return Msg{}, err
	}
	body = body[:hdr.MessageLength-headerLen]

	switch hdr.OpCode {
	case OpMsg:
		return DecodeMsg(body)
	case OpCompressed:
		origOpcode, payload, err := DecodeCompressed(body)
		if err != nil {
			return Msg{}, err
		}
		if origOpcode != OpMsg {
			return Msg{}, fmt.Errorf("%w: unsupported decompressed opcode %s", ErrInvalidResponse, origOpcode)
		}
		return DecodeMsg(payload)
	default:
		return Msg{}, fmt.Errorf("%w: unknown opcode %s", ErrInvalidResponse, hdr.OpCode)
	}
}

func firstKeyOf(doc bsoncore.Document) (string, error) {
	elems, err := doc.Elements()
	if err != nil {
		return "", err
	}
	if len(elems) == 0 {
		return "", fmt.Errorf("empty command document")
	}
	return elems[0].Key(), nil
}
