package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/seqqc/encoding/fasta"
	"github.com/grailbio/seqqc/encoding/fastq"
	"github.com/grailbio/seqqc/encoding/ubam"
	"github.com/grailbio/seqqc/qc"
	"github.com/grailbio/seqqc/seqident"
	"github.com/klauspost/compress/gzip"
)

var (
	format          = flag.String("format", "fastq", "Input format; 'fastq' and 'ubam' supported")
	parallelism     = flag.Int("parallelism", 0, "Maximum number of simultaneous QC workers; 0 = runtime.NumCPU()")
	adapterList     = flag.String("adapters", "", "Comma-separated adapter probes, each a name=sequence pair or a bare sequence; default is the built-in Illumina/Nextera set")
	contaminants    = flag.String("contaminants", "", "Comma-separated FASTA paths with known contaminants, used to identify overrepresented sequences")
	maxUnique       = flag.Int("max-unique-sequences", 5000000, "Maximum number of distinct sequence prefixes tracked for duplication estimation; more increases sensitivity at the cost of memory")
	overrepFraction = flag.Float64("overrepresentation-fraction", 0.001, "Fraction of reads at which a tracked sequence counts as overrepresented")
	overrepMin      = flag.Int("overrepresentation-min", 100, "Lower bound on the overrepresentation occurrence threshold, regardless of -overrepresentation-fraction")
	overrepMax      = flag.Int("overrepresentation-max", 0, "Upper bound on the overrepresentation occurrence threshold; 0 = unlimited")
	checksum        = flag.Bool("checksum", false, "Report a seahash checksum of the raw input stream in the summary")
	outPath         = flag.String("out", "", "Output TSV path; empty = stdout")
)

const (
	formatFASTQ = "fastq"
	formatUBAM  = "ubam"

	logReadsEvery = 1024 * 1024

	maxInt = int(^uint(0) >> 1)
)

// adapterProbe is one named adapter sequence to search for.
type adapterProbe struct {
	Name     string
	Sequence string
}

// builtinProbes is the default probe set, after FastQC's adapter list.
var builtinProbes = []adapterProbe{
	{"Illumina Universal Adapter", "AGATCGGAAGAG"},
	{"Illumina Small RNA 3' Adapter", "TGGAATTCTCGG"},
	{"Illumina Small RNA 5' Adapter", "GATCGTCGGACT"},
	{"Nextera Transposase Sequence", "CTGTCTCTTATA"},
	{"PolyA", "AAAAAAAAAAAA"},
	{"PolyG", "GGGGGGGGGGGG"},
}

// parseProbes interprets the -adapters value. Unnamed probes report under
// their own sequence.
func parseProbes(s string) []adapterProbe {
	if s == "" {
		return builtinProbes
	}
	var probes []adapterProbe
	for _, token := range strings.Split(s, ",") {
		probe := adapterProbe{Sequence: token}
		if i := strings.IndexByte(token, '='); i >= 0 {
			probe = adapterProbe{Name: token[:i], Sequence: token[i+1:]}
		}
		if probe.Name == "" {
			probe.Name = probe.Sequence
		}
		probes = append(probes, probe)
	}
	return probes
}

// accumulators bundles one full set of QC accumulators. Every worker owns
// one set, so the accumulators themselves stay single-threaded; the sets
// are merged once the input drains.
type accumulators struct {
	metrics  *qc.Metrics
	adapters *qc.AdapterCounter
	tiles    *qc.PerTileQuality
	dup      *qc.SequenceDuplication
	nano     *qc.NanoStats
}

func newAccumulators(probes []adapterProbe, maxUnique int) (*accumulators, error) {
	sequences := make([]string, len(probes))
	for i, probe := range probes {
		sequences[i] = probe.Sequence
	}
	adapters, err := qc.NewAdapterCounter(sequences)
	if err != nil {
		return nil, err
	}
	dup, err := qc.NewSequenceDuplication(maxUnique)
	if err != nil {
		return nil, err
	}
	return &accumulators{
		metrics:  qc.NewMetrics(),
		adapters: adapters,
		tiles:    qc.NewPerTileQuality(),
		dup:      dup,
		nano:     qc.NewNanoStats(),
	}, nil
}

// work is one parsed batch headed for a worker. tags runs parallel to the
// batch records for uBAM input and is nil for FASTQ input.
type work struct {
	batch *fastq.Batch
	tags  []ubam.Tags
}

func (a *accumulators) addBatch(w work) {
	for i := 0; i < w.batch.Len(); i++ {
		v := w.batch.At(i)
		a.metrics.Add(v)
		a.adapters.Add(v)
		a.tiles.Add(v)
		a.dup.Add(v)
		if w.tags == nil {
			a.nano.Add(v)
			continue
		}
		t := w.tags[i]
		start := qc.ParseTimestamp(gunsafe.StringToBytes(t.StartTime))
		if start < 0 {
			// Records without a usable st tag keep the epoch default,
			// matching what basecallers emit before the clock is known.
			start = 0
		}
		a.nano.AddInfo(qc.NanoInfo{
			StartTime:           start,
			ChannelID:           t.Channel,
			Duration:            t.Duration,
			Length:              uint32(v.Len()),
			CumulativeErrorRate: v.CumulativeErrorRate(),
		})
	}
}

func (a *accumulators) merge(other *accumulators) error {
	a.metrics.Merge(other.metrics)
	if err := a.adapters.Merge(other.adapters); err != nil {
		return err
	}
	a.tiles.Merge(other.tiles)
	a.dup.Merge(other.dup)
	a.nano.Merge(other.nano)
	return nil
}

func streamFASTQ(r io.Reader, name string, workCh chan<- work) error {
	p := fastq.NewParser(r, fastq.ParserOpts{})
	nRead := uint64(0)
	nextLog := uint64(logReadsEvery)
	for {
		batch, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		nRead += uint64(batch.Len())
		if nRead >= nextLog {
			log.Printf("%s: %dMi reads", name, nRead/(1024*1024))
			nextLog += logReadsEvery
		}
		workCh <- work{batch: batch}
	}
	log.Printf("Processed %d reads in %s", nRead, name)
	return nil
}

func streamUBAM(r io.Reader, name string, workCh chan<- work) error {
	br, err := ubam.NewReader(r, ubam.DefaultReaderOpts)
	if err != nil {
		return err
	}
	nRead := uint64(0)
	nextLog := uint64(logReadsEvery)
	once := errors.Once{}
	for {
		batch, tags, err := br.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			once.Set(err)
			break
		}
		nRead += uint64(batch.Len())
		if nRead >= nextLog {
			log.Printf("%s: %dMi reads", name, nRead/(1024*1024))
			nextLog += logReadsEvery
		}
		workCh <- work{batch: batch, tags: tags}
	}
	once.Set(br.Close())
	if err := once.Err(); err != nil {
		return err
	}
	log.Printf("Processed %d reads in %s", nRead, name)
	return nil
}

// process fans batches out to parallelism workers and merges their
// accumulator sets once the input drains.
func process(r io.Reader, name, format string, parallelism int, probes []adapterProbe, maxUnique int) (*accumulators, error) {
	states := make([]*accumulators, parallelism)
	for i := range states {
		acc, err := newAccumulators(probes, maxUnique)
		if err != nil {
			return nil, err
		}
		states[i] = acc
	}
	workCh := make(chan work, 64)
	wg := sync.WaitGroup{}
	for _, acc := range states {
		wg.Add(1)
		go func(acc *accumulators) {
			for w := range workCh {
				acc.addBatch(w)
			}
			wg.Done()
		}(acc)
	}
	var err error
	switch format {
	case formatFASTQ:
		err = streamFASTQ(r, name, workCh)
	case formatUBAM:
		err = streamUBAM(r, name, workCh)
	default:
		err = fmt.Errorf("unknown input format %q", format)
	}
	close(workCh)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	merged := states[0]
	for _, acc := range states[1:] {
		if err := merged.merge(acc); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// maybeGunzip wraps r for transparent decompression when the stream opens
// with the gzip magic. Detection is content based, so compressed objects
// need no .gz suffix.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 512<<10)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		// Short or plain input; a real read error resurfaces in the parser.
		return br, nil
	}
	return gzip.NewReader(br)
}

// identifyAll matches each overrepresented sequence against the
// contaminant databases at the given FASTA paths.
func identifyAll(ctx context.Context, paths []string, over []qc.OverrepresentedSequence) ([]seqident.Match, error) {
	dbs := make([]fasta.Fasta, 0, len(paths))
	for _, path := range paths {
		body, err := file.ReadFile(ctx, path)
		if err != nil {
			return nil, errors.E(err, "couldn't read contaminants:", path)
		}
		fa, err := fasta.New(bytes.NewReader(body))
		if err != nil {
			return nil, errors.E(err, "couldn't parse contaminants:", path)
		}
		dbs = append(dbs, fa)
	}
	db, err := seqident.NewDB(seqident.DefaultK, dbs...)
	if err != nil {
		return nil, err
	}
	matches := make([]seqident.Match, len(over))
	err = traverse.Each(len(over), func(i int) error {
		m, err := db.Identify(over[i].Sequence)
		if err != nil {
			return err
		}
		matches[i] = m
		return nil
	})
	return matches, err
}

func run(ctx context.Context, path string) error {
	p := *parallelism
	if p <= 0 {
		p = runtime.NumCPU()
	}
	probes := parseProbes(*adapterList)

	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "couldn't open input:", path)
	}
	var (
		r io.Reader = in.Reader(ctx)
		h hash.Hash64
	)
	if *checksum {
		h = seahash.New()
		r = io.TeeReader(r, h)
	}
	if *format == formatFASTQ {
		// BAM carries its own gzip framing, so only FASTQ input is sniffed.
		if r, err = maybeGunzip(r); err != nil {
			return errors.E(err, "couldn't decompress input:", path)
		}
	}
	acc, err := process(r, path, *format, p, probes, *maxUnique)
	closeOnce := errors.Once{}
	closeOnce.Set(err)
	closeOnce.Set(in.Close(ctx))
	if err := closeOnce.Err(); err != nil {
		return err
	}

	maxThreshold := *overrepMax
	if maxThreshold <= 0 {
		maxThreshold = maxInt
	}
	over, err := acc.dup.OverrepresentedSequences(*overrepFraction, *overrepMin, maxThreshold)
	if err != nil {
		return err
	}
	var matches []seqident.Match
	if *contaminants != "" && len(over) > 0 {
		if matches, err = identifyAll(ctx, strings.Split(*contaminants, ","), over); err != nil {
			return err
		}
	}
	rep := &report{
		input:   path,
		format:  *format,
		acc:     acc,
		probes:  probes,
		over:    over,
		matches: matches,
	}
	if h != nil {
		rep.checksum = fmt.Sprintf("%016x", h.Sum64())
	}

	out := io.Writer(os.Stdout)
	var outFile file.File
	if *outPath != "" {
		if outFile, err = file.Create(ctx, *outPath); err != nil {
			return errors.E(err, "couldn't create output:", *outPath)
		}
		out = outFile.Writer(ctx)
	}
	err = writeReport(out, rep)
	if outFile != nil {
		writeOnce := errors.Once{}
		writeOnce.Set(err)
		writeOnce.Set(outFile.Close(ctx))
		err = writeOnce.Err()
	}
	return err
}

func seqqcUsage() {
	fmt.Printf("Usage: %s [OPTIONS] path\n", os.Args[0])
	fmt.Printf("Computes QC metrics for the FASTQ or unaligned BAM file at path.\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = seqqcUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Exactly one input path expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	if *format != formatFASTQ && *format != formatUBAM {
		log.Fatalf("Unknown -format %q; 'fastq' and 'ubam' supported", *format)
	}
	ctx := vcontext.Background()
	if err := run(ctx, flag.Arg(0)); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
