package format

// HeaderChecksum computes the header checksum: the XOR of the first 127
// dwords of the header page. The checksum field itself is not included.
//
// All-zero and all-one results are remapped so a zeroed or erased page can
// never carry a valid checksum.
func HeaderChecksum(data []byte) uint32 {
	if len(data) < ChecksumRegionLen {
		return 0
	}

	var sum uint32
	for i := range uint64(ChecksumDwords) {
		sum ^= ReadU32(data, i*4)
	}

	switch sum {
	case 0xFFFFFFFF:
		return 0xFFFFFFFE
	case 0:
		return 1
	}
	return sum
}
