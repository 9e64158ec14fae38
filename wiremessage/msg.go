package wiremessage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// DocumentSequence is a type-1 section: a named array of documents carried
// inline rather than embedded in the body, used for multi-document writes
// (spec.md §4.1, identifiers "documents"/"updates"/"deletes"/"ops"/"nsInfo").
type DocumentSequence struct {
	Identifier string
	Documents  []bsoncore.Document
}

// Msg is the decoded, in-memory form of an OP_MSG payload: the section-0
// body plus zero or more section-1 document sequences.
type Msg struct {
	Flags     MsgFlag
	Body      bsoncore.Document
	Sequences []DocumentSequence
}

// EncodeMsg serializes an OP_MSG wire message (header + flags + sections),
// appending to dst. It does not compress; compression is layered on by
// Codec.Encode.
func EncodeMsg(dst []byte, requestID int32, m Msg) []byte {
	idx, dst := AppendHeader(dst, requestID, 0, OpMsg)
	dst = appendu32(dst, uint32(m.Flags))

	dst = append(dst, byte(SingleDocument))
	dst = append(dst, m.Body...)

	for _, seq := range m.Sequences {
		dst = append(dst, byte(DocumentSequence))
		seqIdx := len(dst)
		dst = appendi32(dst, 0) // size placeholder
		dst = append(dst, seq.Identifier...)
		dst = append(dst, 0x00)
		for _, doc := range seq.Documents {
			dst = append(dst, doc...)
		}
		sizeBytes := dst[seqIdx : seqIdx+4]
		size := len(dst) - seqIdx
		sizeBytes[0] = byte(size)
		sizeBytes[1] = byte(size >> 8)
		sizeBytes[2] = byte(size >> 16)
		sizeBytes[3] = byte(size >> 24)
	}

	return UpdateLength(dst, idx)
}

// DecodeMsg parses the flags + sections portion of an OP_MSG payload
// (everything after the 16-byte header). wm must already be trimmed to
// exactly MessageLength-16 bytes by the caller.
func DecodeMsg(wm []byte) (Msg, error) {
	if len(wm) < 4 {
		return Msg{}, fmt.Errorf("%w: OP_MSG missing flags", ErrInvalidResponse)
	}
	flags := MsgFlag(readu32(wm[0:4]))
	rest := wm[4:]

	var m Msg
	m.Flags = flags

	haveBody := false
	for len(rest) > 0 {
		stype := SectionType(rest[0])
		rest = rest[1:]
		switch stype {
		case SingleDocument:
			doc, n, err := readDocument(rest)
			if err != nil {
				return Msg{}, err
			}
			m.Body = doc
			rest = rest[n:]
			haveBody = true
		case DocumentSequence:
			if len(rest) < 4 {
				return Msg{}, fmt.Errorf("%w: truncated document sequence", ErrInvalidResponse)
			}
			size := int(readi32(rest[0:4]))
			if size < 4 || size > len(rest) {
				return Msg{}, fmt.Errorf("%w: malformed document sequence length", ErrInvalidResponse)
			}
			seqBytes := rest[4:size]
			rest = rest[size:]

			nameEnd := indexByte(seqBytes, 0x00)
			if nameEnd < 0 {
				return Msg{}, fmt.Errorf("%w: document sequence missing identifier terminator", ErrInvalidResponse)
			}
			seq := DocumentSequence{Identifier: string(seqBytes[:nameEnd])}
			docs := seqBytes[nameEnd+1:]
			for len(docs) > 0 {
				doc, n, err := readDocument(docs)
				if err != nil {
					return Msg{}, err
				}
				seq.Documents = append(seq.Documents, doc)
				docs = docs[n:]
			}
			m.Sequences = append(m.Sequences, seq)
		default:
			return Msg{}, fmt.Errorf("%w: unknown OP_MSG section type %d", ErrInvalidResponse, stype)
		}
	}
	if !haveBody {
		return Msg{}, fmt.Errorf("%w: OP_MSG missing body section", ErrInvalidResponse)
	}
	return m, nil
}

func readDocument(b []byte) (bsoncore.Document, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated document", ErrInvalidResponse)
	}
	length := int(readi32(b[0:4]))
	if length < 5 || length > len(b) {
		return nil, 0, fmt.Errorf("%w: malformed document length %d", ErrInvalidResponse, length)
	}
	doc := bsoncore.Document(b[:length])
	if err := doc.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return doc, length, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func appendu32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readu32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
