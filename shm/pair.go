package shm

import (
	"fmt"

	"github.com/pcpkit/shmstats/section"
)

// growthFactor reserves headroom in both segments for metrics registered
// after this process sized them, including by other producers.
const growthFactor = 4

// counterSlotSize is the data-segment footprint of one physical metric slot.
const counterSlotSize = 4

// Pair is the index and data segment of one store, opened against a common
// rendezvous file with project bytes 'i' and 'd'.
type Pair struct {
	Index *Segment
	Data  *Segment
}

// IndexPages returns the index segment size in pages for a store expected to
// hold physicalCount metrics, with growth headroom.
func IndexPages(physicalCount int) int {
	return pagesFor(section.HeaderSize + growthFactor*physicalCount*section.EntrySize)
}

// pagesFor rounds a byte count up to whole pages, with a one-page floor so
// empty registries still get valid segments.
func pagesFor(bytes int) int {
	if bytes <= PageSize {
		return 1
	}

	return (bytes + PageSize - 1) / PageSize
}

// DataPages returns the data segment size in pages for a store expected to
// hold physicalCount metrics, with growth headroom.
func DataPages(physicalCount int) int {
	return pagesFor(growthFactor * physicalCount * counterSlotSize)
}

// OpenPair opens or creates both segments for the rendezvous file at path,
// sized for physicalCount metrics. On a partial failure the already-open
// segment is closed before returning.
//
// Returns:
//   - *Pair: Both attached segments.
//   - error: Key derivation or segment open failure.
func OpenPair(path string, physicalCount int, readOnly bool) (*Pair, error) {
	indexKey, err := KeyFor(path, ProjIndex)
	if err != nil {
		return nil, err
	}
	dataKey, err := KeyFor(path, ProjData)
	if err != nil {
		return nil, err
	}

	index, err := Open(indexKey, IndexPages(physicalCount), readOnly)
	if err != nil {
		return nil, fmt.Errorf("index segment: %w", err)
	}

	data, err := Open(dataKey, DataPages(physicalCount), readOnly)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("data segment: %w", err)
	}

	return &Pair{Index: index, Data: data}, nil
}

// Close detaches both segments.
func (p *Pair) Close() error {
	var firstErr error
	if p.Index != nil {
		if err := p.Index.Close(); err != nil {
			firstErr = err
		}
		p.Index = nil
	}
	if p.Data != nil {
		if err := p.Data.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.Data = nil
	}

	return firstErr
}

// Remove destroys both segments and detaches. Idempotent.
func (p *Pair) Remove() error {
	var firstErr error
	if p.Index != nil {
		if err := p.Index.Remove(); err != nil {
			firstErr = err
		}
		p.Index = nil
	}
	if p.Data != nil {
		if err := p.Data.Remove(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.Data = nil
	}

	return firstErr
}
