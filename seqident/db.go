package seqident

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/grailbio/seqqc/encoding/fasta"
	"github.com/grailbio/seqqc/kmer"
	"github.com/minio/highwayhash"
)

// DefaultK is the identification window width used to shortlist database
// candidates. Lookups that produce no candidate retry with narrower
// windows, two bases at a time, down to minK.
const (
	DefaultK = 13
	minK     = 9
)

type hashKey = [highwayhash.Size]uint8

// Match is the outcome of identifying one sequence.
type Match struct {
	// Matches is the scored length scaled by the best identity fraction.
	Matches int
	// Length is the number of bases scored, at most MaxQueryLength.
	Length int
	// Name of the best matching database sequence. Empty when the
	// database holds nothing the sequence shares a window with.
	Name string
}

// DB is an in-memory database of known adapters and contaminants, indexed
// by canonical window content for identifying overrepresented sequences.
//
// Construction walks the FASTA inputs in order. Entries repeating an
// earlier (name, sequence) pair are collapsed so that overlapping
// databases do not vote twice for the same contaminant.
type DB struct {
	k     int
	names []string
	seqs  []string

	mu      sync.Mutex
	indexes map[int]map[kmer.Kmer][]int32
}

// NewDB builds an identification database over the named sequences of the
// given FASTA inputs. k is the initial identification window width; it
// must be odd, so that no window equals its own reverse complement, and
// smaller than kmer.MaxK. DefaultK suits adapter-sized contaminants.
func NewDB(k int, dbs ...fasta.Fasta) (*DB, error) {
	if k < 1 || k >= kmer.MaxK || k%2 == 0 {
		return nil, fmt.Errorf("%w: identification window must be odd and in [1, %d], got %d",
			ErrInvalidArgument, kmer.MaxK-1, k)
	}
	d := &DB{k: k, indexes: map[int]map[kmer.Kmer][]int32{}}
	var zeroSeed = hashKey{}
	seen := map[hashKey]bool{}
	var hashBuf []byte
	for _, db := range dbs {
		for _, name := range db.SeqNames() {
			length, err := db.Len(name)
			if err != nil {
				return nil, err
			}
			if length == 0 {
				continue
			}
			seq, err := db.Get(name, 0, length)
			if err != nil {
				return nil, err
			}
			// NUL-separated so the (name, sequence) pair hashes
			// unambiguously.
			hashBuf = append(hashBuf[:0], name...)
			hashBuf = append(hashBuf, 0)
			hashBuf = append(hashBuf, seq...)
			key := highwayhash.Sum(hashBuf, zeroSeed[:])
			if seen[key] {
				continue
			}
			seen[key] = true
			d.names = append(d.names, name)
			d.seqs = append(d.seqs, seq)
		}
	}
	return d, nil
}

// NumSequences returns the number of distinct database entries.
func (d *DB) NumSequences() int { return len(d.names) }

// Identify names the database sequence the given sequence most plausibly
// derives from. Candidates are shortlisted by shared canonical windows and
// refined with Identity over the sequence head and its reverse complement;
// at most the first MaxQueryLength bases are scored, and Match.Length
// reports the scored length. A shortlist that comes up empty is retried
// with a narrower window.
func (d *DB) Identify(sequence string) (Match, error) {
	for k := d.k; ; k -= 2 {
		m, err := d.identifyAt(sequence, k)
		if err != nil || m.Matches != 0 || k-2 < minK {
			return m, err
		}
	}
}

func (d *DB) identifyAt(sequence string, k int) (Match, error) {
	index := d.indexFor(k)
	seq := []byte(sequence)
	windows := make(map[kmer.Kmer]bool)
	for j := 0; j+k <= len(seq); j++ {
		if r := kmer.Pack(seq[j:], k); r.Flag == kmer.OK {
			windows[r.Kmer] = true
		}
	}
	votes := make(map[int32]int)
	for w := range windows {
		for _, id := range index[w] {
			votes[id]++
		}
	}
	type candidate struct {
		id    int32
		votes int
	}
	candidates := make([]candidate, 0, len(votes))
	for id, n := range votes {
		candidates = append(candidates, candidate{id, n})
	}
	// Most votes first; among equals prefer the shortest target, which
	// makes the refinement the most specific.
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.votes != cj.votes {
			return ci.votes > cj.votes
		}
		if len(d.seqs[ci.id]) != len(d.seqs[cj.id]) {
			return len(d.seqs[ci.id]) < len(d.seqs[cj.id])
		}
		return d.names[ci.id] < d.names[cj.id]
	})
	query := sequence
	if len(query) > MaxQueryLength {
		query = query[:MaxQueryLength]
	}
	revQuery := reverseComplement(query)
	best := Match{Length: len(query)}
	bestIdentity := 0.0
	for _, c := range candidates {
		target := d.seqs[c.id]
		identity, err := Identity(target, query, DefaultScores)
		if err != nil {
			return Match{}, err
		}
		reverse, err := Identity(target, revQuery, DefaultScores)
		if err != nil {
			return Match{}, err
		}
		if reverse > identity {
			identity = reverse
		}
		if identity > bestIdentity {
			bestIdentity = identity
			best.Name = d.names[c.id]
			if identity == 1.0 {
				break
			}
		}
	}
	best.Matches = int(math.Round(bestIdentity * float64(len(query))))
	return best, nil
}

// indexFor returns the window index for width k, building and caching it
// on first use.
func (d *DB) indexFor(k int) map[kmer.Kmer][]int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index, ok := d.indexes[k]; ok {
		return index
	}
	index := make(map[kmer.Kmer][]int32)
	for i, seq := range d.seqs {
		id := int32(i)
		b := []byte(seq)
		for j := 0; j+k <= len(b); j++ {
			r := kmer.Pack(b[j:], k)
			if r.Flag != kmer.OK {
				continue
			}
			ids := index[r.Kmer]
			// One vote per database sequence no matter how often the
			// window repeats within it.
			if n := len(ids); n > 0 && ids[n-1] == id {
				continue
			}
			index[r.Kmer] = append(ids, id)
		}
	}
	d.indexes[k] = index
	return index
}

// complementTable maps a base to its complement, folding case and mapping
// every other character to N.
var complementTable [256]byte

func init() {
	for i := range complementTable {
		complementTable[i] = 'N'
	}
	for i, c := range []byte("acgtACGT") {
		complementTable[c] = "TGCATGCA"[i]
	}
}

func reverseComplement(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b[len(s)-1-i] = complementTable[s[i]]
	}
	return string(b)
}
