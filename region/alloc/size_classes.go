package alloc

import (
	"math"
	"slices"
)

// SizeClassConfig lays out the segregated free lists. Sizes are whole
// cells, header included.
type SizeClassConfig struct {
	Name string

	// Step classes from SmallMin to SmallMax, SmallIncrement apart.
	SmallMin       uint32
	SmallMax       uint32
	SmallIncrement uint32

	// Above SmallMax each class is GrowthFactor times the previous one,
	// up to MediumMax. Anything larger goes to a single list.
	MediumMax    uint32
	GrowthFactor float64
}

var (
	// ConfigNodes favours chain nodes, queue nodes and reply blocks:
	// 16-256 in steps of 8, then x1.5 to 16 KiB.
	ConfigNodes = SizeClassConfig{
		Name:           "Nodes",
		SmallMin:       16,
		SmallMax:       256,
		SmallIncrement: 8,
		MediumMax:      16 << 10,
		GrowthFactor:   1.5,
	}

	// ConfigBalanced: 16-512 in steps of 16, then x1.5 to 16 KiB.
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      16 << 10,
		GrowthFactor:   1.5,
	}

	// ConfigArrays suits pools dominated by bucket and stack arrays that
	// double or quadruple: 16-512 in steps of 32, then x2 to 1 MiB.
	ConfigArrays = SizeClassConfig{
		Name:           "Arrays",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 32,
		MediumMax:      1 << 20,
		GrowthFactor:   2.0,
	}

	DefaultConfig = ConfigBalanced
)

// sizeClassTable maps cell sizes to free-list indexes.
type sizeClassTable struct {
	name   string
	bounds []uint32 // inclusive upper bound per class, ascending
}

func newSizeClassTable(cfg SizeClassConfig) *sizeClassTable {
	var bounds []uint32
	for lo := cfg.SmallMin; lo < cfg.SmallMax; lo += cfg.SmallIncrement {
		bounds = append(bounds, lo+cfg.SmallIncrement-1)
	}
	for lo := cfg.SmallMax; lo < cfg.MediumMax; {
		hi := max(uint32(math.Ceil(float64(lo)*cfg.GrowthFactor)), lo+1)
		bounds = append(bounds, hi-1)
		lo = hi
	}
	return &sizeClassTable{name: cfg.Name, bounds: bounds}
}

// class returns the free list for size; numClasses() is the large list.
func (t *sizeClassTable) class(size uint32) int {
	i, _ := slices.BinarySearch(t.bounds, size)
	return i
}

func (t *sizeClassTable) numClasses() int { return len(t.bounds) }

func (t *sizeClassTable) String() string { return t.name }
