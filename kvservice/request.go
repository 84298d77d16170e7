package kvservice

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortRequest   = errors.New("kvservice: request too short")
	ErrKeyOverflow    = errors.New("kvservice: key length exceeds available data")
	ErrSurplusData    = errors.New("kvservice: surplus data past key")
	ErrUnknownRequest = errors.New("kvservice: unknown request type")
)

const (
	OpGet byte = 'G'
	OpPut byte = 'P'

	requestHeader = 5
)

// Request is a decoded request. Key and Value alias the encoded bytes.
type Request struct {
	Op    byte
	Key   []byte
	Value []byte
}

// ParseRequest decodes b.
func ParseRequest(b []byte) (Request, error) {
	if len(b) < requestHeader {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrShortRequest, len(b))
	}
	keyLen := uint64(binary.BigEndian.Uint32(b[1:]))
	if uint64(len(b)) < requestHeader+keyLen {
		return Request{}, fmt.Errorf("%w: key %d, %d bytes left", ErrKeyOverflow, keyLen, len(b)-requestHeader)
	}
	r := Request{Op: b[0], Key: b[requestHeader : requestHeader+keyLen]}
	rest := b[requestHeader+keyLen:]

	switch r.Op {
	case OpGet:
		if len(rest) != 0 {
			return Request{}, fmt.Errorf("%w: %d bytes", ErrSurplusData, len(rest))
		}
	case OpPut:
		r.Value = rest
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownRequest, r.Op)
	}
	return r, nil
}

// Get encodes a get request.
func Get(key []byte) []byte { return encode(OpGet, key, nil) }

// Put encodes a put request.
func Put(key, value []byte) []byte { return encode(OpPut, key, value) }

func encode(op byte, key, value []byte) []byte {
	b := make([]byte, requestHeader, requestHeader+len(key)+len(value))
	b[0] = op
	binary.BigEndian.PutUint32(b[1:], uint32(len(key)))
	b = append(b, key...)
	return append(b, value...)
}
