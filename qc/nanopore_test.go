package qc

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestParseTimestamp(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"2019-01-26T18:52:46Z", 1548528766},
		{"2020-03-01T00:00:00Z", 1583020800},
		{"2020-02-29T00:00:00Z", 1582934400}, // leap day
		{"1970-01-01T00:00:00Z", 0},
		{"2023-07-15T12:30:45Z", 1689424245},
		{"2019-01-26T18:52:46.501Z", 1548528766},
		{"2019-01-26T18:52:46+02:00", 1548521566},
		{"2019-01-26T18:52:46-05:30", 1548548566},
		{"1969-12-31T23:59:59Z", -1},
		{"2019-13-26T18:52:46Z", -1},
		{"2019-00-26T18:52:46Z", -1},
		{"2019-01-26 18:52:46Z", -1},
		{"2019-01-26T18:52:46", -1},
		{"2019-01-26T18:52:46X", -1},
		{"2019-01-26T18:52:46+0200", -1},
		{"2019-01-26T18:52:46.", -1},
		{"201a-01-26T18:52:46Z", -1},
		{"", -1},
	} {
		expect.EQ(t, ParseTimestamp([]byte(tc.in)), tc.want, "timestamp %q", tc.in)
	}
}

func TestNanoStatsBasic(t *testing.T) {
	n := NewNanoStats()
	name := "c367538a-ad49-4c70-9f4b-b08a0e08e9f0 runid=bd6953afe7eb8127b1912c0b6d7ae1b4ad327b0f" +
		" read=106 ch=245 start_time=2019-01-26T18:52:46Z flow_cell_id=FAK57261"
	v := testView(t, name, "ACGT", "IIII")
	n.Add(v)
	expect.EQ(t, n.NumberOfReads(), 1)
	skipped, _ := n.Skipped()
	expect.False(t, skipped)
	expect.EQ(t, n.Infos(), []NanoInfo{{
		StartTime:           1548528766,
		ChannelID:           245,
		Length:              4,
		CumulativeErrorRate: v.CumulativeErrorRate(),
	}})
}

func TestNanoStatsTimeRange(t *testing.T) {
	n := NewNanoStats()
	n.Add(testView(t, "r1 ch=1 start_time=2020-03-01T00:00:00Z", "A", "I"))
	n.Add(testView(t, "r2 ch=2 start_time=2019-01-26T18:52:46Z", "A", "I"))
	n.Add(testView(t, "r3 ch=3 start_time=2023-07-15T12:30:45Z", "A", "I"))
	min, max := n.TimeRange()
	expect.EQ(t, min, int64(1548528766))
	expect.EQ(t, max, int64(1689424245))
}

func TestNanoStatsSkipOnBadHeader(t *testing.T) {
	for _, header := range []string{
		"justname",
		"name=nospace",
		"name read=106",                           // no ch, no start_time
		"name start_time=2019-01-26T18:52:46Z",    // no ch
		"name ch=245",                             // no start_time
		"name ch=24x start_time=2019-01-26T18:52:46Z", // bad channel
		"name ch=245 start_time=2019-26-01T18:52:46Z", // bad timestamp
	} {
		n := NewNanoStats()
		n.Add(testView(t, header, "ACGT", "IIII"))
		skipped, reason := n.Skipped()
		expect.True(t, skipped, "header %q", header)
		expect.EQ(t, reason, `can not parse header: "`+header+`"`, "header %q", header)
		expect.EQ(t, n.NumberOfReads(), 0)

		// Once skipped the accumulator ignores further reads.
		n.Add(testView(t, "r ch=1 start_time=2019-01-26T18:52:46Z", "A", "I"))
		expect.EQ(t, n.NumberOfReads(), 0)
	}
}

func TestNanoStatsIgnoresUnknownKeys(t *testing.T) {
	n := NewNanoStats()
	n.Add(testView(t, "r foo=bar ch=7 barcode=unclassified start_time=2019-01-26T18:52:46Z x=y", "A", "I"))
	skipped, _ := n.Skipped()
	expect.False(t, skipped)
	expect.EQ(t, n.Infos()[0].ChannelID, int32(7))
	expect.EQ(t, n.Infos()[0].StartTime, int64(1548528766))
}

func TestNanoStatsAddInfo(t *testing.T) {
	n := NewNanoStats()
	info := NanoInfo{
		StartTime:           1583020800,
		ChannelID:           12,
		Duration:            3.5,
		Length:              100,
		CumulativeErrorRate: 0.01,
	}
	n.AddInfo(info)
	expect.EQ(t, n.Infos(), []NanoInfo{info})
	min, max := n.TimeRange()
	expect.EQ(t, min, int64(1583020800))
	expect.EQ(t, max, int64(1583020800))
}

func TestNanoStatsMerge(t *testing.T) {
	n1 := NewNanoStats()
	n2 := NewNanoStats()
	n1.Add(testView(t, "r1 ch=1 start_time=2020-03-01T00:00:00Z", "A", "I"))
	n2.Add(testView(t, "r2 ch=2 start_time=2019-01-26T18:52:46Z", "AC", "II"))
	n1.Merge(n2)
	expect.EQ(t, n1.NumberOfReads(), 2)
	infos := n1.Infos()
	expect.EQ(t, infos[0].ChannelID, int32(1))
	expect.EQ(t, infos[1].ChannelID, int32(2))
	min, max := n1.TimeRange()
	expect.EQ(t, min, int64(1548528766))
	expect.EQ(t, max, int64(1583020800))
}

func TestNanoStatsMergeSkipped(t *testing.T) {
	n1 := NewNanoStats()
	n2 := NewNanoStats()
	n2.Add(testView(t, "bad", "A", "I"))
	n1.Merge(n2)
	skipped, reason := n1.Skipped()
	expect.True(t, skipped)
	expect.EQ(t, reason, `can not parse header: "bad"`)
}
