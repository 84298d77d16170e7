package format

import "encoding/binary"

// Binary encoding utilities for little-endian integers.
//
// Offsets are absolute positions in the region, expressed as uint64 so they
// can be taken straight from a Ref without conversion at every call site.

// PutU32 writes a uint32 value at off in little-endian format.
func PutU32(b []byte, off uint64, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutI32 writes an int32 value at off in little-endian format.
func PutI32(b []byte, off uint64, v int32) {
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(v))
}

// PutU64 writes a uint64 value at off in little-endian format.
func PutU64(b []byte, off uint64, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU32 reads a uint32 value at off in little-endian format.
func ReadU32(b []byte, off uint64) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadI32 reads an int32 value at off in little-endian format.
func ReadI32(b []byte, off uint64) int32 {
	return int32(binary.LittleEndian.Uint32(b[off : off+4]))
}

// ReadU64 reads a uint64 value at off in little-endian format.
func ReadU64(b []byte, off uint64) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}
