package qc

import (
	"bytes"
	"fmt"

	"github.com/grailbio/seqqc/encoding/fastq"
)

// tileQuality holds per-position data for one flow-cell tile. lengthCounts
// records read lengths (index length-1); totalErrors sums each position's
// per-base error probability. A tile with nil slices has seen no reads.
type tileQuality struct {
	lengthCounts []uint64
	totalErrors  []float64
}

// PerTileQuality accumulates per-tile per-position summed error rates over
// reads carrying Illumina-convention headers
// (instrument:run:flowcell:lane:tile:x:y, tile in the 5th field).
//
// Header parsing is best effort: the first unparsable header permanently
// switches the accumulator to a skipped state in which Add is a no-op, and
// the reason is retained. This keeps non-Illumina inputs from failing a
// whole run.
type PerTileQuality struct {
	skipped       bool
	skippedReason string
	tiles         []tileQuality // indexed directly by tile id
	maxLength     int
	reads         uint64
}

// NewPerTileQuality returns an empty PerTileQuality accumulator.
func NewPerTileQuality() *PerTileQuality {
	return &PerTileQuality{}
}

// parseTileID extracts the tile number from an Illumina-convention header,
// the unsigned decimal field after the 4th colon. It returns -1 if the
// header does not follow the convention.
func parseTileID(header []byte) int64 {
	cursor := 0
	for count := 0; count < 4; count++ {
		next := bytes.IndexByte(header[cursor:], ':')
		if next < 0 {
			return -1
		}
		cursor += next + 1
	}
	end := bytes.IndexByte(header[cursor:], ':')
	if end < 0 {
		return -1
	}
	return parseUnsignedDecimal(header[cursor : cursor+end])
}

// parseUnsignedDecimal parses 1 to 18 decimal digits, returning -1 on any
// other input. 18 digits always fit in an int64.
func parseUnsignedDecimal(s []byte) int64 {
	if len(s) < 1 || len(s) > 18 {
		return -1
	}
	var value int64
	for _, c := range s {
		c -= '0'
		if c > 9 {
			return -1
		}
		value = value*10 + int64(c)
	}
	return value
}

// resizeTiles grows every in-use tile's per-position arrays to cover reads
// of length n.
func (p *PerTileQuality) resizeTiles(n int) {
	for i := range p.tiles {
		tile := &p.tiles[i]
		if tile.lengthCounts == nil {
			continue
		}
		tile.lengthCounts = append(tile.lengthCounts, make([]uint64, n-p.maxLength)...)
		tile.totalErrors = append(tile.totalErrors, make([]float64, n-p.maxLength)...)
	}
	p.maxLength = n
}

// Add folds one read into its tile's statistics. After a header parse
// failure Add is a no-op; check Skipped for the reason.
func (p *PerTileQuality) Add(v fastq.View) {
	if p.skipped {
		return
	}
	name := v.Name()
	tileID := parseTileID(name)
	if tileID < 0 {
		p.skipped = true
		p.skippedReason = fmt.Sprintf("can not parse header: %q", name)
		return
	}
	sequence := v.Sequence()
	length := len(sequence)
	if length > p.maxLength {
		p.resizeTiles(length)
	}
	if int(tileID) >= len(p.tiles) {
		grown := make([]tileQuality, int(tileID)+1)
		copy(grown, p.tiles)
		p.tiles = grown
	}
	tile := &p.tiles[tileID]
	if tile.lengthCounts == nil {
		tile.lengthCounts = make([]uint64, p.maxLength)
		tile.totalErrors = make([]float64, p.maxLength)
	}
	p.reads++
	if length == 0 {
		return
	}
	tile.lengthCounts[length-1]++
	qualities := v.Qualities()
	for pos, c := range qualities {
		tile.totalErrors[pos] += scoreToErrorRate[c-fastq.PhredOffset]
	}
}

// Skipped reports whether the accumulator gave up on header parsing, and
// the reason if so.
func (p *PerTileQuality) Skipped() (bool, string) {
	return p.skipped, p.skippedReason
}

// NumberOfReads returns the number of reads folded in so far.
func (p *PerTileQuality) NumberOfReads() uint64 {
	return p.reads
}

// MaxLength returns the length of the longest read seen.
func (p *PerTileQuality) MaxLength() int {
	return p.maxLength
}

// TileCount reports one tile's accumulated data. TotalErrors[i] is the
// summed error probability at read position i; ReadCounts[i] is the number
// of reads that reach position i, reconstructed from the stored length
// counts by a right-to-left cumulative sum.
type TileCount struct {
	Tile        int64
	TotalErrors []float64
	ReadCounts  []uint64
}

// TileCounts returns a copy of the accumulated data for every tile that
// has seen at least one read, ordered by tile id.
func (p *PerTileQuality) TileCounts() []TileCount {
	var counts []TileCount
	for id := range p.tiles {
		tile := &p.tiles[id]
		if tile.lengthCounts == nil {
			continue
		}
		count := TileCount{
			Tile:        int64(id),
			TotalErrors: make([]float64, p.maxLength),
			ReadCounts:  make([]uint64, p.maxLength),
		}
		copy(count.TotalErrors, tile.totalErrors)
		var totalReads uint64
		for pos := p.maxLength - 1; pos >= 0; pos-- {
			totalReads += tile.lengthCounts[pos]
			count.ReadCounts[pos] = totalReads
		}
		counts = append(counts, count)
	}
	return counts
}

// TileAverage reports one tile's average per-base error probability at
// each read position. Positions no read of the tile reaches are 0.
type TileAverage struct {
	Tile     int64
	Averages []float64
}

// TileAverages returns the per-position average error probability for
// every tile that has seen at least one read, ordered by tile id.
func (p *PerTileQuality) TileAverages() []TileAverage {
	counts := p.TileCounts()
	averages := make([]TileAverage, 0, len(counts))
	for _, count := range counts {
		average := TileAverage{
			Tile:     count.Tile,
			Averages: make([]float64, len(count.TotalErrors)),
		}
		for pos, total := range count.TotalErrors {
			if count.ReadCounts[pos] > 0 {
				average.Averages[pos] = total / float64(count.ReadCounts[pos])
			}
		}
		averages = append(averages, average)
	}
	return averages
}

// Merge folds the per-tile data of other into p. If either side is
// skipped the result is skipped, retaining the earlier reason.
func (p *PerTileQuality) Merge(other *PerTileQuality) {
	if !p.skipped && other.skipped {
		p.skipped = true
		p.skippedReason = other.skippedReason
	}
	if other.maxLength > p.maxLength {
		p.resizeTiles(other.maxLength)
	}
	if len(other.tiles) > len(p.tiles) {
		grown := make([]tileQuality, len(other.tiles))
		copy(grown, p.tiles)
		p.tiles = grown
	}
	for id := range other.tiles {
		otherTile := &other.tiles[id]
		if otherTile.lengthCounts == nil {
			continue
		}
		tile := &p.tiles[id]
		if tile.lengthCounts == nil {
			tile.lengthCounts = make([]uint64, p.maxLength)
			tile.totalErrors = make([]float64, p.maxLength)
		}
		for pos, count := range otherTile.lengthCounts {
			tile.lengthCounts[pos] += count
		}
		for pos, total := range otherTile.totalErrors {
			tile.totalErrors[pos] += total
		}
	}
	p.reads += other.reads
}
