// Package stats collects per-iteration latency samples from a benchmark run
// and reduces them to the percentile/throughput summary the CLI reports,
// both as a human-readable block and as a CSV row. It is deliberately kept
// outside the session/reactor/ringbuf/wire core, since the wire contract it
// exists to report on is external to that core.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CSVHeader is the exact column set the CLI's --output report uses.
const CSVHeader = "test_name,iterations,payload_size,avg_latency_ns,min_latency_ns,max_latency_ns," +
	"p50_latency_ns,p90_latency_ns,p95_latency_ns,p99_latency_ns,stddev_ns," +
	"packets_per_sec,mb_per_sec"

// Summary is the reduced statistics for one benchmark run.
type Summary struct {
	TestName    string
	Iterations  int
	PayloadSize int

	AvgLatencyNs    float64
	MinLatencyNs    float64
	MaxLatencyNs    float64
	MedianLatencyNs float64
	P50LatencyNs    float64
	P90LatencyNs    float64
	P95LatencyNs    float64
	P99LatencyNs    float64
	StdDevNs        float64

	PacketsPerSecond   float64
	MegabytesPerSecond float64
	TotalBytes         uint64
	TotalElapsedNs     uint64
}

// CSVRow renders the summary as one CSV row matching CSVHeader's columns.
func (s Summary) CSVRow() string {
	return fmt.Sprintf("%s,%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f",
		s.TestName, s.Iterations, s.PayloadSize,
		s.AvgLatencyNs, s.MinLatencyNs, s.MaxLatencyNs,
		s.P50LatencyNs, s.P90LatencyNs, s.P95LatencyNs, s.P99LatencyNs,
		s.StdDevNs, s.PacketsPerSecond, s.MegabytesPerSecond,
	)
}

// String renders the human-readable report --verbose prints to stdout.
func (s Summary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 38)
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, " Benchmark: %s\n", s.TestName)
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, " Iterations    : %d\n", s.Iterations)
	fmt.Fprintf(&b, " Payload Size  : %d bytes\n", s.PayloadSize)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 38))
	fmt.Fprintf(&b, " Latency (RTT):\n")
	fmt.Fprintf(&b, "   Average     : %.2f us\n", s.AvgLatencyNs/1000.0)
	fmt.Fprintf(&b, "   Min         : %.2f us\n", s.MinLatencyNs/1000.0)
	fmt.Fprintf(&b, "   Max         : %.2f us\n", s.MaxLatencyNs/1000.0)
	fmt.Fprintf(&b, "   Median      : %.2f us\n", s.MedianLatencyNs/1000.0)
	fmt.Fprintf(&b, "   P50         : %.2f us\n", s.P50LatencyNs/1000.0)
	fmt.Fprintf(&b, "   P90         : %.2f us\n", s.P90LatencyNs/1000.0)
	fmt.Fprintf(&b, "   P95         : %.2f us\n", s.P95LatencyNs/1000.0)
	fmt.Fprintf(&b, "   P99         : %.2f us\n", s.P99LatencyNs/1000.0)
	fmt.Fprintf(&b, "   Std Dev     : %.2f us\n", s.StdDevNs/1000.0)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 38))
	fmt.Fprintf(&b, " Throughput:\n")
	fmt.Fprintf(&b, "   Packets/sec : %.2f\n", s.PacketsPerSecond)
	fmt.Fprintf(&b, "   MB/sec      : %.2f\n", s.MegabytesPerSecond)
	fmt.Fprintf(&b, "   Total Bytes : %d\n", s.TotalBytes)
	fmt.Fprintf(&b, "   Elapsed     : %.2f ms\n", float64(s.TotalElapsedNs)/1_000_000.0)
	fmt.Fprintf(&b, "%s\n", line)
	return b.String()
}

// Collector accumulates per-iteration latency samples (in nanoseconds) and
// reduces them to a Summary on demand.
type Collector struct {
	samples []uint64
}

// NewCollector returns a Collector with capacity pre-reserved for the
// expected iteration count.
func NewCollector(expectedIterations int) *Collector {
	return &Collector{samples: make([]uint64, 0, expectedIterations)}
}

// AddSample records one round-trip latency.
func (c *Collector) AddSample(latencyNs uint64) {
	c.samples = append(c.samples, latencyNs)
}

// Count returns the number of samples recorded so far.
func (c *Collector) Count() int { return len(c.samples) }

// Calculate reduces the recorded samples into a Summary. An empty Collector
// returns a Summary with Iterations == 0, TestName and PayloadSize set from
// the arguments, and every statistic field zero.
func (c *Collector) Calculate(testName string, payloadSize int) Summary {
	s := Summary{TestName: testName, PayloadSize: payloadSize, Iterations: len(c.samples)}
	if len(c.samples) == 0 {
		return s
	}

	sorted := append([]uint64(nil), c.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.MinLatencyNs = float64(sorted[0])
	s.MaxLatencyNs = float64(sorted[len(sorted)-1])

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	s.AvgLatencyNs = sum / float64(len(sorted))

	s.MedianLatencyNs = percentile(sorted, 50.0)
	s.P50LatencyNs = s.MedianLatencyNs
	s.P90LatencyNs = percentile(sorted, 90.0)
	s.P95LatencyNs = percentile(sorted, 95.0)
	s.P99LatencyNs = percentile(sorted, 99.0)

	var sqSum float64
	for _, v := range sorted {
		diff := float64(v) - s.AvgLatencyNs
		sqSum += diff * diff
	}
	s.StdDevNs = math.Sqrt(sqSum / float64(len(sorted)))

	s.TotalElapsedNs = uint64(sum)
	s.TotalBytes = uint64(s.Iterations) * uint64(payloadSize)

	elapsedSec := float64(s.TotalElapsedNs) / 1e9
	if elapsedSec > 0 {
		s.PacketsPerSecond = float64(s.Iterations) / elapsedSec
		s.MegabytesPerSecond = float64(s.TotalBytes) / (1024.0 * 1024.0) / elapsedSec
	}
	return s
}

// percentile uses linear interpolation between the two closest ranks,
// matching the original implementation's interpolated-percentile method.
func percentile(sorted []uint64, percent float64) float64 {
	if len(sorted) == 1 {
		return float64(sorted[0])
	}
	index := (percent / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return float64(sorted[lower])
	}
	fraction := index - float64(lower)
	return float64(sorted[lower])*(1.0-fraction) + float64(sorted[upper])*fraction
}
