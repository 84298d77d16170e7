package format

// Align8 returns n aligned up to the next 8-byte boundary.
//
// Example:
//
//	Align8(1)  = 8
//	Align8(8)  = 8
//	Align8(9)  = 16
func Align8(n uint64) uint64 {
	return (n + CellAlignmentMask) &^ CellAlignmentMask
}

// AlignPage returns n aligned up to the next page boundary.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n uint64) uint64 {
	return (n + PageAlignmentMask) &^ PageAlignmentMask
}

// AlignPageDown returns n rounded down to a page boundary.
func AlignPageDown(n uint64) uint64 {
	return n &^ PageAlignmentMask
}
