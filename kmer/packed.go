// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package kmer

import (
	"github.com/grailbio/base/log"
)

// PackedLen returns the number of bytes needed to hold n packed bases.
func PackedLen(n int) int {
	return (n + 3) / 4
}

// PackBytes encodes all of seq at 2 bits per base into dst, four bases per
// byte with the first base in the high bits of each byte and any trailing
// partial byte zero-padded at the low end. dst must hold PackedLen(len(seq))
// bytes; a shorter dst panics. The returned flag classifies the characters
// seen, exactly as Pack does; dst contents are unspecified unless the flag
// is OK.
func PackBytes(dst, seq []byte) Flag {
	if len(dst) < PackedLen(len(seq)) {
		log.Panicf("kmer: %d-byte destination cannot hold %d packed bases", len(dst), len(seq))
	}
	var all uint8
	di := 0
	i := 0
	for ; i+4 <= len(seq); i += 4 {
		n0 := twoBitMap[seq[i]]
		n1 := twoBitMap[seq[i+1]]
		n2 := twoBitMap[seq[i+2]]
		n3 := twoBitMap[seq[i+3]]
		all |= n0 | n1 | n2 | n3
		dst[di] = (n0&3)<<6 | (n1&3)<<4 | (n2&3)<<2 | n3&3
		di++
	}
	if i < len(seq) {
		var b uint8
		shift := uint(6)
		for ; i < len(seq); i++ {
			n := twoBitMap[seq[i]]
			all |= n
			b |= (n & 3) << shift
			shift -= 2
		}
		dst[di] = b
	}
	if all > 3 {
		if all&codeInvalid != 0 {
			return ContainsInvalid
		}
		return ContainsAmbiguous
	}
	return OK
}

// UnpackBytes decodes n bases from a packing produced by PackBytes.
func UnpackBytes(packed []byte, n int) []byte {
	if len(packed) < PackedLen(n) {
		log.Panicf("kmer: %d packed bytes cannot hold %d bases", len(packed), n)
	}
	seq := make([]byte, n)
	for i := 0; i < n; i++ {
		code := packed[i>>2] >> (6 - uint(i&3)*2) & 3
		seq[i] = "ACGT"[code]
	}
	return seq
}
