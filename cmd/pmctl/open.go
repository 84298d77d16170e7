package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/joshuapare/pmemkit/kvservice"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/region"
	"github.com/joshuapare/pmemkit/region/alloc"
	"github.com/joshuapare/pmemkit/region/verify"
	"github.com/joshuapare/pmemkit/replica"
)

// record is what a pool root can hold.
type record interface {
	Cells() iter.Seq[region.Ref]
	Dump(w io.Writer) error
}

func sizeClasses() (*alloc.SizeClassConfig, error) {
	switch classes {
	case "", "balanced":
		return &alloc.ConfigBalanced, nil
	case "nodes":
		return &alloc.ConfigNodes, nil
	case "arrays":
		return &alloc.ConfigArrays, nil
	}
	return nil, fmt.Errorf("unknown size classes %q", classes)
}

func openPool(path string) (*pool.Pool, error) {
	cfg, err := sizeClasses()
	if err != nil {
		return nil, err
	}
	p, err := pool.Open(path, pool.Options{Logger: log.Logger, SizeClasses: cfg})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return p, nil
}

// openRecord attaches to the pool root. It returns "" and nil for an
// empty root.
func openRecord(p *pool.Pool) (string, record, error) {
	if p.Root().IsNil() {
		return "", nil, nil
	}
	svc, err := kvservice.Open(p, p.Root(), kvservice.Options{})
	if err == nil {
		return "kvservice", svc, nil
	}
	if !errors.Is(err, kvservice.ErrNotService) {
		return "", nil, err
	}
	rep, err := replica.Open(p)
	if err != nil {
		return "", nil, err
	}
	return "replica", rep, nil
}

// reachable returns the verify callback for rec, or nil without a record.
func reachable(rec record) verify.ReachableFunc {
	if rec == nil {
		return func(context.Context) (*roaring.Bitmap, error) { return roaring.New(), nil }
	}
	return func(ctx context.Context) (*roaring.Bitmap, error) {
		bm := roaring.New()
		for ref := range rec.Cells() {
			bm.Add(verify.CellKey(uint64(ref)))
		}
		return bm, ctx.Err()
	}
}
