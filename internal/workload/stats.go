package workload

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// routeStats tracks performance statistics for one command
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// Stats collects per-command latencies from concurrent workers
type Stats struct {
	mu     sync.Mutex
	routes map[Name]*routeStats
}

func NewStats() *Stats {
	return &Stats{routes: make(map[Name]*routeStats)}
}

// Record adds one call of name that took d
func (s *Stats) Record(name Name, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.routes[name]
	if !ok {
		rs = &routeStats{name: string(name)}
		s.routes[name] = rs
	}
	rs.addDuration(d)
	if failed {
		rs.failures++
	}
}

// Calls returns the number of recorded calls and failures for name
func (s *Stats) Calls(name Name) (calls, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.routes[name]; ok {
		return rs.totalCalls, rs.failures
	}
	return 0, 0
}

// Print writes the performance table, one row per command in name order
func (s *Stats) Print(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.routes))
	for name := range s.routes {
		names = append(names, string(name))
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\nAPI Performance Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Command", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, name := range names {
		stats := s.routes[Name(name)]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Fprintf(w, "%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))
}
