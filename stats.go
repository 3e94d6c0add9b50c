package wflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplicaStats is one replica's running counters, the per-replica entries
// of a StatisticsSnapshot's Replicas array (spec §6). Every field is
// updated with a plain atomic rather than a mutex, matching the rest of
// this module's lock-free-on-the-hot-path stance.
type ReplicaStats struct {
	InputsReceived  uint64 `json:"inputs_received" yaml:"inputs_received"`
	OutputsSent     uint64 `json:"outputs_sent" yaml:"outputs_sent"`
	BytesReceived   uint64 `json:"bytes_received" yaml:"bytes_received"`
	BytesSent       uint64 `json:"bytes_sent" yaml:"bytes_sent"`
	ServiceTimeNsP50 uint64 `json:"service_time_ns_p50" yaml:"service_time_ns_p50"`
	ServiceTimeNsP99 uint64 `json:"service_time_ns_p99" yaml:"service_time_ns_p99"`

	inputsReceived  atomic.Uint64
	outputsSent     atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesSent       atomic.Uint64
	serviceTimeHist *serviceTimeHistogram
}

func newReplicaStats() *ReplicaStats {
	return &ReplicaStats{serviceTimeHist: newServiceTimeHistogram()}
}

func (s *ReplicaStats) recordIn(bytes int) {
	s.inputsReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))
}

func (s *ReplicaStats) recordOut(bytes int) {
	s.outputsSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
}

func (s *ReplicaStats) recordServiceTime(d time.Duration) {
	s.serviceTimeHist.observe(d)
}

// snapshot copies the live atomics into the exported, marshalable fields.
func (s *ReplicaStats) snapshot() ReplicaStats {
	p50, p99 := s.serviceTimeHist.quantiles()
	return ReplicaStats{
		InputsReceived:   s.inputsReceived.Load(),
		OutputsSent:      s.outputsSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		BytesSent:        s.bytesSent.Load(),
		ServiceTimeNsP50: p50,
		ServiceTimeNsP99: p99,
	}
}

// serviceTimeHistogram is a small fixed-bucket log-scale histogram, cheap
// enough to update on every envelope without a mutex. It is not meant to
// be a general-purpose HDR histogram, just the minimal structure needed
// for the two quantiles the statistics file reports.
type serviceTimeHistogram struct {
	buckets [64]atomic.Uint64 // bucket i covers [2^i, 2^(i+1)) nanoseconds
}

func newServiceTimeHistogram() *serviceTimeHistogram { return &serviceTimeHistogram{} }

func (h *serviceTimeHistogram) observe(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	bucket := 0
	for ns > 1 && bucket < len(h.buckets)-1 {
		ns >>= 1
		bucket++
	}
	h.buckets[bucket].Add(1)
}

func (h *serviceTimeHistogram) quantiles() (p50, p99 uint64) {
	var total uint64
	counts := make([]uint64, len(h.buckets))
	for i := range h.buckets {
		counts[i] = h.buckets[i].Load()
		total += counts[i]
	}
	if total == 0 {
		return 0, 0
	}
	find := func(frac float64) uint64 {
		target := uint64(float64(total) * frac)
		var cum uint64
		for i, c := range counts {
			cum += c
			if cum >= target {
				return uint64(1) << uint(i)
			}
		}
		return uint64(1) << uint(len(counts)-1)
	}
	return find(0.50), find(0.99)
}

// StatisticsSnapshot is one operator's statistics file entry (spec §6):
// "newline-terminated JSON objects, one per operator", each carrying its
// fixed metadata fields plus a Replicas array of per-replica counters.
type StatisticsSnapshot struct {
	OperatorName    string         `json:"Operator_name" yaml:"Operator_name"`
	OperatorType    string         `json:"Operator_type" yaml:"Operator_type"`
	Distribution    string         `json:"Distribution" yaml:"Distribution"`
	IsTerminated    bool           `json:"isTerminated" yaml:"isTerminated"`
	IsWindowed      bool           `json:"isWindowed" yaml:"isWindowed"`
	WindowType      string         `json:"Window_type,omitempty" yaml:"Window_type,omitempty"`
	WindowLength    uint64         `json:"Window_length,omitempty" yaml:"Window_length,omitempty"`
	WindowSlide     uint64         `json:"Window_slide,omitempty" yaml:"Window_slide,omitempty"`
	Parallelism     int            `json:"Parallelism" yaml:"Parallelism"`
	OutputBatchSize int            `json:"OutputBatchSize" yaml:"OutputBatchSize"`
	Replicas        []ReplicaStats `json:"Replicas" yaml:"Replicas"`
}

// statsSource is implemented by anything the writer can pull a current
// StatisticsSnapshot from — one per operator registered with a Graph.
type statsSource interface {
	snapshot() StatisticsSnapshot
}

// operatorStats is the common snapshot bookkeeping every Chain*/AddSource
// call attaches to its replicas: one ReplicaStats per replica, plus the
// operator-level metadata that doesn't vary per replica.
type operatorStats struct {
	name            string
	kind            OperatorKind
	distribution    Kind
	terminated      atomic.Bool
	windowed        bool
	windowType      string
	winLen          uint64
	slideLen        uint64
	parallelism     int
	outputBatchSize int
	replicas        []*ReplicaStats
}

func newOperatorStats(name string, kind OperatorKind, parallelism, outputBatchSize int) *operatorStats {
	s := &operatorStats{
		name:            name,
		kind:            kind,
		parallelism:     parallelism,
		outputBatchSize: outputBatchSize,
		replicas:        make([]*ReplicaStats, parallelism),
	}
	for i := range s.replicas {
		s.replicas[i] = newReplicaStats()
	}
	return s
}

func (s *operatorStats) snapshot() StatisticsSnapshot {
	replicas := make([]ReplicaStats, len(s.replicas))
	for i, r := range s.replicas {
		replicas[i] = r.snapshot()
	}
	return StatisticsSnapshot{
		OperatorName:    s.name,
		OperatorType:    string(s.kind),
		Distribution:    s.distribution.String(),
		IsTerminated:    s.terminated.Load(),
		IsWindowed:      s.windowed,
		WindowType:      s.windowType,
		WindowLength:    s.winLen,
		WindowSlide:     s.slideLen,
		Parallelism:     s.parallelism,
		OutputBatchSize: s.outputBatchSize,
		Replicas:        replicas,
	}
}

// StatsWriter periodically serializes every registered operator's
// StatisticsSnapshot to the statistics file path spec §6 names:
// "${WF_LOG_DIR}/${pid}_${op_name}.json", falling back to "./log/…" when
// WF_LOG_DIR is unset. One file is written per operator, each holding a
// single newline-terminated object — the writer re-truncates and rewrites
// the file on every tick rather than appending, since each snapshot is a
// full current-state reading, not an event log.
type StatsWriter struct {
	dir     string
	format  string // "json" or "yaml", from WF_STATS_FORMAT
	pid     int
	sources map[string]statsSource
}

// NewStatsWriter builds a writer rooted at WF_LOG_DIR (or "./log" if
// unset) and encoding per WF_STATS_FORMAT (or "json" if unset/unknown).
func NewStatsWriter() *StatsWriter {
	dir := os.Getenv("WF_LOG_DIR")
	if dir == "" {
		dir = "./log"
	}
	format := os.Getenv("WF_STATS_FORMAT")
	if format != "yaml" {
		format = "json"
	}
	return &StatsWriter{dir: dir, format: format, pid: os.Getpid(), sources: map[string]statsSource{}}
}

// Register associates an operator name with the stats source a Chain*/
// AddSource call built for it. When a StatsWriter is attached via
// WithStatsWriter, AddSource, Chain*, ChainSink and ChainWindowed call
// this automatically (through attachStats) as each operator is built.
func (w *StatsWriter) Register(name string, src statsSource) {
	w.sources[name] = src
}

// Snapshots returns every registered operator's current
// StatisticsSnapshot, keyed by operator name — the live read adminserver's
// /stats and /stats/stream handlers use instead of waiting on Run's
// ticker.
func (w *StatsWriter) Snapshots() map[string]StatisticsSnapshot {
	out := make(map[string]StatisticsSnapshot, len(w.sources))
	for name, src := range w.sources {
		out[name] = src.snapshot()
	}
	return out
}

// WriteOnce serializes every registered operator's current snapshot to
// its own file, per spec §6's naming rule.
func (w *StatsWriter) WriteOnce() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("wflow: stats dir: %w", err)
	}
	for name, src := range w.sources {
		snap := src.snapshot()
		ext := "json"
		if w.format == "yaml" {
			ext = "yaml"
		}
		path := filepath.Join(w.dir, fmt.Sprintf("%d_%s.%s", w.pid, name, ext))
		var body []byte
		var err error
		if w.format == "yaml" {
			body, err = yaml.Marshal(snap)
		} else {
			body, err = json.Marshal(snap)
			body = append(body, '\n')
		}
		if err != nil {
			return fmt.Errorf("wflow: marshal stats for %q: %w", name, err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("wflow: write stats for %q: %w", name, err)
		}
	}
	return nil
}

// Run ticks WriteOnce every interval until ctx is done, as the interval
// loop an adminserver-less deployment relies on to keep the statistics
// files current (the admin server's /stats endpoint reads the same
// snapshots live instead of waiting on this ticker).
func (w *StatsWriter) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			_ = w.WriteOnce()
			return
		case <-ticker.C:
			_ = w.WriteOnce()
		}
	}
}
