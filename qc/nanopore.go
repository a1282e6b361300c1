package qc

import (
	"bytes"
	"fmt"
	"time"

	"github.com/grailbio/seqqc/encoding/fastq"
)

// NanoInfo holds the per-read metadata a nanopore basecaller writes into
// FASTQ headers.
type NanoInfo struct {
	StartTime           int64 // POSIX seconds
	ChannelID           int32
	Duration            float64 // seconds, only available from uBAM input
	Length              uint32
	CumulativeErrorRate float64
}

// NanoStats collects per-read nanopore metadata: channel, start time, read
// length and cumulative error rate. Headers are space-delimited key=value
// tokens after the read id; the ch and start_time keys are required.
//
// Like PerTileQuality, parsing is best effort: the first unparsable header
// permanently switches the accumulator to a skipped state with a retained
// reason, so non-nanopore inputs do not fail a run.
type NanoStats struct {
	skipped       bool
	skippedReason string
	infos         []NanoInfo
	minTime       int64
	maxTime       int64
}

// NewNanoStats returns an empty NanoStats accumulator.
func NewNanoStats() *NanoStats {
	return &NanoStats{}
}

// parseNanoInfo extracts the channel and start time from a nanopore header.
// It reports failure if the header has no key=value section or either
// required key is missing or malformed.
func parseNanoInfo(header []byte, info *NanoInfo) bool {
	space := bytes.IndexByte(header, ' ')
	if space < 0 {
		return false
	}
	channel := int64(-1)
	startTime := int64(-1)
	fields := header[space+1:]
	for len(fields) > 0 {
		equals := bytes.IndexByte(fields, '=')
		if equals < 0 {
			return false
		}
		key := fields[:equals]
		value := fields[equals+1:]
		if end := bytes.IndexByte(value, ' '); end >= 0 {
			fields = value[end+1:]
			value = value[:end]
		} else {
			fields = nil
		}
		switch {
		case bytes.Equal(key, []byte("ch")):
			channel = parseUnsignedDecimal(value)
		case bytes.Equal(key, []byte("start_time")):
			startTime = ParseTimestamp(value)
		}
	}
	if channel < 0 || startTime < 0 {
		return false
	}
	info.ChannelID = int32(channel)
	info.StartTime = startTime
	return true
}

// ParseTimestamp converts a basecaller timestamp of the form
// 2019-01-26T18:52:46Z to POSIX seconds, returning -1 on malformed input.
// Fractional seconds are accepted and ignored; a +hh:mm or -hh:mm zone
// offset is accepted instead of Z. Timestamps before 1970 are rejected.
// uBAM st tags carry the same format.
func ParseTimestamp(s []byte) int64 {
	if len(s) < 20 {
		return -1
	}
	year := parseUnsignedDecimal(s[0:4])
	month := parseUnsignedDecimal(s[5:7])
	day := parseUnsignedDecimal(s[8:10])
	hour := parseUnsignedDecimal(s[11:13])
	minute := parseUnsignedDecimal(s[14:16])
	second := parseUnsignedDecimal(s[17:19])
	if year|month|day|hour|minute|second < 0 ||
		s[4] != '-' || s[7] != '-' || s[10] != 'T' || s[13] != ':' || s[16] != ':' {
		return -1
	}
	if year < 1970 || month < 1 || month > 12 {
		return -1
	}
	zone := s[19:]
	if zone[0] == '.' {
		i := 1
		for i < len(zone) && zone[i] >= '0' && zone[i] <= '9' {
			i++
		}
		zone = zone[i:]
	}
	var offset int64
	if len(zone) == 0 {
		return -1
	}
	switch zone[0] {
	case 'Z':
	case '+', '-':
		if len(zone) < 6 || zone[3] != ':' {
			return -1
		}
		offsetHours := parseUnsignedDecimal(zone[1:3])
		offsetMinutes := parseUnsignedDecimal(zone[4:6])
		if offsetHours|offsetMinutes < 0 {
			return -1
		}
		offset = offsetHours*3600 + offsetMinutes*60
		if zone[0] == '-' {
			offset = -offset
		}
	default:
		return -1
	}
	unix := time.Date(int(year), time.Month(month), int(day),
		int(hour), int(minute), int(second), 0, time.UTC).Unix()
	return unix - offset
}

// Add records one read's metadata. After a header parse failure Add is a
// no-op; check Skipped for the reason.
func (n *NanoStats) Add(v fastq.View) {
	if n.skipped {
		return
	}
	var info NanoInfo
	name := v.Name()
	if !parseNanoInfo(name, &info) {
		n.skipped = true
		n.skippedReason = fmt.Sprintf("can not parse header: %q", name)
		return
	}
	info.Length = uint32(v.Len())
	info.CumulativeErrorRate = v.CumulativeErrorRate()
	n.record(info)
}

// AddInfo records metadata parsed elsewhere, such as from uBAM tags.
func (n *NanoStats) AddInfo(info NanoInfo) {
	if n.skipped {
		return
	}
	n.record(info)
}

func (n *NanoStats) record(info NanoInfo) {
	n.infos = append(n.infos, info)
	if info.StartTime > n.maxTime {
		n.maxTime = info.StartTime
	}
	if n.minTime == 0 || info.StartTime < n.minTime {
		n.minTime = info.StartTime
	}
}

// Skipped reports whether the accumulator gave up on header parsing, and
// the reason if so.
func (n *NanoStats) Skipped() (bool, string) {
	return n.skipped, n.skippedReason
}

// NumberOfReads returns the number of reads recorded.
func (n *NanoStats) NumberOfReads() int {
	return len(n.infos)
}

// Infos returns a copy of the recorded per-read metadata in input order.
func (n *NanoStats) Infos() []NanoInfo {
	infos := make([]NanoInfo, len(n.infos))
	copy(infos, n.infos)
	return infos
}

// TimeRange returns the smallest and largest start time recorded, or
// zeros if no read carried one.
func (n *NanoStats) TimeRange() (min, max int64) {
	return n.minTime, n.maxTime
}

// Merge appends the metadata of other to n. If either side is skipped the
// result is skipped, retaining the earlier reason.
func (n *NanoStats) Merge(other *NanoStats) {
	if !n.skipped && other.skipped {
		n.skipped = true
		n.skippedReason = other.skippedReason
	}
	for _, info := range other.infos {
		n.record(info)
	}
}
