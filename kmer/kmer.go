// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package kmer packs short nucleotide windows into 2-bit-per-base integers
// and derives canonical (strand-independent) window values. It also provides
// the byte-array packing used to fingerprint longer sequence prefixes.
package kmer

import (
	"github.com/grailbio/base/log"
)

// Kmer is a 2-bit-per-base packed nucleotide window, at most MaxK bases
// wide. The first base of the window occupies the highest populated bit
// pair.
type Kmer uint64

// MaxK is the widest window representable by a Kmer.
const MaxK = 32

// Flag classifies the characters seen while packing a window.
type Flag uint8

const (
	// OK: the window contained only A, C, G or T bases.
	OK Flag = iota
	// ContainsAmbiguous: at least one N base was seen.
	ContainsAmbiguous
	// ContainsInvalid: at least one character outside A/C/G/T/N was seen.
	// ContainsInvalid wins when both conditions hold.
	ContainsInvalid
)

// Result is the outcome of packing one window. Kmer is meaningful only when
// Flag == OK.
type Result struct {
	Kmer Kmer
	Flag Flag
}

// Per-base codes. A/C/G/T map to 0..3 so that bit-complementing a packed
// word complements the bases. N and unrecognized characters set distinct
// flag bits so that one accumulated OR over a window classifies it.
const (
	codeN       = 0x8
	codeInvalid = 0x4
)

var twoBitMap [256]uint8

func init() {
	for i := range twoBitMap {
		twoBitMap[i] = codeInvalid
	}
	twoBitMap['A'], twoBitMap['a'] = 0, 0
	twoBitMap['C'], twoBitMap['c'] = 1, 1
	twoBitMap['G'], twoBitMap['g'] = 2, 2
	twoBitMap['T'], twoBitMap['t'] = 3, 3
	twoBitMap['N'], twoBitMap['n'] = codeN, codeN
}

// Pack encodes the first k bases of seq and returns the canonical value:
// the numerically smaller of the packed window and its reverse complement.
// Character classification is deferred to one flag check after the whole
// window has been examined, so a window with both an N and an invalid
// character reports ContainsInvalid. k must be in [1, MaxK] and no larger
// than len(seq); violations panic.
func Pack(seq []byte, k int) Result {
	if k < 1 || k > MaxK || k > len(seq) {
		log.Panicf("kmer: window size %d outside [1,%d] for %d-base sequence", k, MaxK, len(seq))
	}
	var kmer uint64
	var all uint8
	i := 0
	// Four bases per step; flagged codes may smear over neighboring bit
	// pairs, which is harmless because flagged windows are discarded below.
	for ; i < k-4; i += 4 {
		n0 := uint64(twoBitMap[seq[i]])
		n1 := uint64(twoBitMap[seq[i+1]])
		n2 := uint64(twoBitMap[seq[i+2]])
		n3 := uint64(twoBitMap[seq[i+3]])
		all |= uint8(n0 | n1 | n2 | n3)
		kmer = kmer<<8 | n0<<6 | n1<<4 | n2<<2 | n3
	}
	for ; i < k; i++ {
		n := twoBitMap[seq[i]]
		all |= n
		kmer = kmer<<2 | uint64(n)
	}
	if all > 3 {
		if all&codeInvalid != 0 {
			return Result{Flag: ContainsInvalid}
		}
		return Result{Flag: ContainsAmbiguous}
	}
	revcomp := reverseComplement(kmer, k)
	if revcomp > kmer {
		return Result{Kmer: Kmer(kmer)}
	}
	return Result{Kmer: Kmer(revcomp)}
}

// ReverseComplement returns the packed reverse complement of a k-base Kmer.
func ReverseComplement(kmer Kmer, k int) Kmer {
	if k < 1 || k > MaxK {
		log.Panicf("kmer: window size %d outside [1,%d]", k, MaxK)
	}
	return Kmer(reverseComplement(uint64(kmer), k))
}

func reverseComplement(kmer uint64, k int) uint64 {
	// With A,C,G,T as 0,1,2,3, inverting all bits complements every base.
	comp := ^kmer
	// Reverse the base order by progressively swapping bit groups.
	revcomp := comp<<32 | comp>>32
	revcomp = (revcomp&0xFFFF0000FFFF0000)>>16 | (revcomp&0x0000FFFF0000FFFF)<<16
	revcomp = (revcomp&0xFF00FF00FF00FF00)>>8 | (revcomp&0x00FF00FF00FF00FF)<<8
	revcomp = (revcomp&0xF0F0F0F0F0F0F0F0)>>4 | (revcomp&0x0F0F0F0F0F0F0F0F)<<4
	revcomp = (revcomp&0xCCCCCCCCCCCCCCCC)>>2 | (revcomp&0x3333333333333333)<<2
	// For k < 32 the vacant bit pairs ended up at the low end; shift the
	// window back so the first base sits in the highest populated pair.
	return revcomp >> (64 - uint(k)*2)
}
