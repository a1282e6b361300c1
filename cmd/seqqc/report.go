package main

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/seqqc/qc"
	"github.com/grailbio/seqqc/seqident"
)

// report bundles everything the TSV writer renders.
type report struct {
	input    string
	format   string
	checksum string // hex seahash of the raw input, empty when not computed
	acc      *accumulators
	probes   []adapterProbe
	over     []qc.OverrepresentedSequence
	matches  []seqident.Match // parallel to over; nil without -contaminants
}

// phredBucketLabels names the per-position quality columns. Buckets are
// four phred points wide; scores above 47 share the top bucket.
var phredBucketLabels = []string{
	"0-3", "4-7", "8-11", "12-15", "16-19", "20-23",
	"24-27", "28-31", "32-35", "36-39", "40-43", "44+",
}

// writeReport renders all sections of r as tab-separated tables. Each
// section opens with a single-cell "# name" row followed by its header.
// Histogram and series sections emit only rows with nonzero counts.
func writeReport(out io.Writer, r *report) error {
	w := tsv.NewWriter(out)
	if err := writeSummary(w, r); err != nil {
		return err
	}
	if err := writeBaseComposition(w, r); err != nil {
		return err
	}
	if err := writePerPositionQuality(w, r); err != nil {
		return err
	}
	if err := writeGCContent(w, r); err != nil {
		return err
	}
	if err := writeSequenceQuality(w, r); err != nil {
		return err
	}
	if err := writeAdapterContent(w, r); err != nil {
		return err
	}
	if err := writePerTileQuality(w, r); err != nil {
		return err
	}
	if err := writeOverrepresented(w, r); err != nil {
		return err
	}
	if err := writeNanopore(w, r); err != nil {
		return err
	}
	return w.Flush()
}

func writeSummary(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	kv := func(key, value string) {
		w.WriteString(key)
		w.WriteString(value)
		setErr(w.EndLine())
	}
	m := r.acc.metrics
	var totalBases, gc, at uint64
	for _, counts := range m.BaseCounts() {
		for _, c := range counts {
			totalBases += c
		}
		gc += counts[qc.C] + counts[qc.G]
		at += counts[qc.A] + counts[qc.T]
	}
	w.WriteString("# summary")
	setErr(w.EndLine())
	kv("input", r.input)
	kv("format", r.format)
	kv("reads", strconv.FormatUint(m.NumberOfReads(), 10))
	kv("max_read_length", strconv.Itoa(m.MaxLength()))
	kv("total_bases", strconv.FormatUint(totalBases, 10))
	if gc+at > 0 {
		kv("gc_percent", strconv.FormatFloat(float64(gc)*100/float64(gc+at), 'f', 2, 64))
	}
	kv("tracked_sequences", strconv.Itoa(r.acc.dup.CollectedUniqueSequences()))
	if stopped := r.acc.dup.StoppedCollectingAt(); stopped > 0 {
		kv("tracking_stopped_at", strconv.FormatUint(stopped, 10))
	}
	if r.checksum != "" {
		kv("checksum", r.checksum)
	}
	return err
}

func writeBaseComposition(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# base_composition")
	setErr(w.EndLine())
	for _, column := range []string{"position", "n", "a", "c", "g", "t"} {
		w.WriteString(column)
	}
	setErr(w.EndLine())
	for pos, counts := range r.acc.metrics.BaseCounts() {
		w.WriteUint32(uint32(pos + 1))
		w.WriteInt64(int64(counts[qc.N]))
		w.WriteInt64(int64(counts[qc.A]))
		w.WriteInt64(int64(counts[qc.C]))
		w.WriteInt64(int64(counts[qc.G]))
		w.WriteInt64(int64(counts[qc.T]))
		setErr(w.EndLine())
	}
	return err
}

func writePerPositionQuality(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# per_position_quality")
	setErr(w.EndLine())
	w.WriteString("position")
	for _, label := range phredBucketLabels {
		w.WriteString(label)
	}
	setErr(w.EndLine())
	for pos, counts := range r.acc.metrics.PhredCounts() {
		w.WriteUint32(uint32(pos + 1))
		for _, c := range counts {
			w.WriteInt64(int64(c))
		}
		setErr(w.EndLine())
	}
	return err
}

func writeGCContent(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# gc_content")
	setErr(w.EndLine())
	w.WriteString("gc_percent")
	w.WriteString("reads")
	setErr(w.EndLine())
	for percent, count := range r.acc.metrics.GCContent() {
		if count == 0 {
			continue
		}
		w.WriteUint32(uint32(percent))
		w.WriteInt64(int64(count))
		setErr(w.EndLine())
	}
	return err
}

func writeSequenceQuality(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# sequence_quality")
	setErr(w.EndLine())
	w.WriteString("mean_phred")
	w.WriteString("reads")
	setErr(w.EndLine())
	for score, count := range r.acc.metrics.PhredScores() {
		if count == 0 {
			continue
		}
		w.WriteUint32(uint32(score))
		w.WriteInt64(int64(count))
		setErr(w.EndLine())
	}
	return err
}

func writeAdapterContent(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# adapter_content")
	setErr(w.EndLine())
	for _, column := range []string{"adapter", "position", "count"} {
		w.WriteString(column)
	}
	setErr(w.EndLine())
	if r.acc.adapters.NumberOfReads() == 0 {
		return err
	}
	counts, countsErr := r.acc.adapters.Counts()
	if countsErr != nil {
		return countsErr
	}
	for i, series := range counts {
		for pos, c := range series {
			if c == 0 {
				continue
			}
			w.WriteString(r.probes[i].Name)
			w.WriteUint32(uint32(pos + 1))
			w.WriteInt64(int64(c))
			setErr(w.EndLine())
		}
	}
	return err
}

func writePerTileQuality(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# per_tile_quality")
	setErr(w.EndLine())
	if skipped, reason := r.acc.tiles.Skipped(); skipped {
		w.WriteString("skipped")
		w.WriteString(reason)
		setErr(w.EndLine())
		return err
	}
	for _, column := range []string{"tile", "position", "average_error_rate"} {
		w.WriteString(column)
	}
	setErr(w.EndLine())
	counts := r.acc.tiles.TileCounts()
	averages := r.acc.tiles.TileAverages()
	for i, tile := range counts {
		for pos, n := range tile.ReadCounts {
			if n == 0 {
				continue
			}
			w.WriteInt64(tile.Tile)
			w.WriteUint32(uint32(pos + 1))
			w.WriteString(strconv.FormatFloat(averages[i].Averages[pos], 'g', 6, 64))
			setErr(w.EndLine())
		}
	}
	return err
}

func writeOverrepresented(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	w.WriteString("# overrepresented_sequences")
	setErr(w.EndLine())
	w.WriteString("count")
	w.WriteString("fraction")
	w.WriteString("sequence")
	if r.matches != nil {
		w.WriteString("match")
		w.WriteString("identity_percent")
	}
	setErr(w.EndLine())
	for i, o := range r.over {
		w.WriteInt64(int64(o.Count))
		w.WriteString(strconv.FormatFloat(o.Fraction, 'f', 6, 64))
		w.WriteString(o.Sequence)
		if r.matches != nil {
			m := r.matches[i]
			if m.Name == "" {
				w.WriteString("No match")
				w.WriteString("")
			} else {
				w.WriteString(m.Name)
				w.WriteString(strconv.FormatFloat(float64(m.Matches)*100/float64(m.Length), 'f', 1, 64))
			}
		}
		setErr(w.EndLine())
	}
	return err
}

func writeNanopore(w *tsv.Writer, r *report) (err error) {
	setErr := func(e error) {
		if err == nil {
			err = e
		}
	}
	kv := func(key, value string) {
		w.WriteString(key)
		w.WriteString(value)
		setErr(w.EndLine())
	}
	nano := r.acc.nano
	w.WriteString("# nanopore")
	setErr(w.EndLine())
	if skipped, reason := nano.Skipped(); skipped {
		kv("skipped", reason)
		return err
	}
	kv("reads", strconv.Itoa(nano.NumberOfReads()))
	if nano.NumberOfReads() == 0 {
		return err
	}
	minTime, maxTime := nano.TimeRange()
	if maxTime > 0 {
		kv("time_range_start", time.Unix(minTime, 0).UTC().Format(time.RFC3339))
		kv("time_range_end", time.Unix(maxTime, 0).UTC().Format(time.RFC3339))
	}
	type channelStats struct {
		reads    uint64
		duration float64
	}
	stats := map[int32]*channelStats{}
	for _, info := range nano.Infos() {
		s := stats[info.ChannelID]
		if s == nil {
			s = &channelStats{}
			stats[info.ChannelID] = s
		}
		s.reads++
		s.duration += info.Duration
	}
	kv("channels", strconv.Itoa(len(stats)))
	w.WriteString("# nanopore_channels")
	setErr(w.EndLine())
	for _, column := range []string{"channel", "reads", "mean_duration_s"} {
		w.WriteString(column)
	}
	setErr(w.EndLine())
	channels := make([]int32, 0, len(stats))
	for id := range stats {
		channels = append(channels, id)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	for _, id := range channels {
		s := stats[id]
		w.WriteInt64(int64(id))
		w.WriteInt64(int64(s.reads))
		w.WriteString(strconv.FormatFloat(s.duration/float64(s.reads), 'f', 3, 64))
		setErr(w.EndLine())
	}
	return err
}
