package wflow

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// runnable is satisfied by every replica shape (replica[IN,OUT],
// sourceReplica[OUT], windowedReplica[T,K,A]); Graph.Run only needs to
// start them and wait for teardown.
type runnable interface {
	run(ctx context.Context)
	Done() <-chan struct{}
}

// GraphOption configures a Graph at construction (spec §6: "PipeGraph
// construction options: name, execution_mode, time_policy").
type GraphOption func(*Graph)

// WithExecutionMode selects DEFAULT/DETERMINISTIC/PROBABILISTIC input
// merge semantics for every replica the graph builds from this point on.
func WithExecutionMode(mode ExecutionMode) GraphOption {
	return func(g *Graph) { g.executionMode = mode }
}

// WithProbabilisticSlack sets the PROBABILISTIC mode's bounded-staleness
// tolerance in input-timestamp ticks, resolving spec §9's Open Question.
// 0 (the default) degenerates PROBABILISTIC to DETERMINISTIC semantics.
func WithProbabilisticSlack(ticks uint64) GraphOption {
	return func(g *Graph) { g.probabilisticSlack = ticks }
}

// WithDefaultBufferSize sets the channel buffer depth used for edges that
// don't override it via Option.WithBufferSize.
func WithDefaultBufferSize(n int) GraphOption {
	return func(g *Graph) { g.bufferSize = n }
}

// WithLogger sets the logger the Graph stores in place of the package
// default. Replicas and Run write no lifecycle events to it.
func WithLogger(l *logrus.Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// WithStatsWriter attaches a StatsWriter: every operator this Graph builds
// from this point on gets its own ReplicaStats counters wired into its
// replicas, registered with w under the operator's stage name (spec §6's
// statistics file, one entry per operator).
func WithStatsWriter(w *StatsWriter) GraphOption {
	return func(g *Graph) { g.statsWriter = w }
}

// Graph is a PipeGraph: the owner of every replica built through its
// AddSource/Chain/ChainSink calls, plus the shared execution-mode and
// buffering defaults those calls apply by default.
type Graph struct {
	name               string
	executionMode      ExecutionMode
	probabilisticSlack uint64
	bufferSize         int
	logger             *logrus.Logger
	statsWriter        *StatsWriter

	mu        sync.Mutex
	runnables []runnable
}

// attachStats registers n-replica operatorStats under name with the
// Graph's StatsWriter (a no-op if none is attached) and returns that
// operatorStats, whose replicas field holds the per-replica ReplicaStats
// to wire into each replica's stats field — or nil if no StatsWriter is
// attached, in which case the replica's nil-check on its stats field
// skips the counters entirely.
func (g *Graph) attachStats(name string, kind OperatorKind, n, outputBatchSize int) *operatorStats {
	if g.statsWriter == nil {
		return nil
	}
	op := newOperatorStats(name, kind, n, outputBatchSize)
	g.statsWriter.Register(name, op)
	return op
}

// attachWindowedStats is attachStats plus the Window_type/length/slide
// metadata fields a windowed/aggregator operator's statistics entry
// carries (spec §6) that a non-windowed operator always leaves zero.
func (g *Graph) attachWindowedStats(name string, kind OperatorKind, n, outputBatchSize int, windowKind windowKind, winLen, slideLen uint64) *operatorStats {
	if g.statsWriter == nil {
		return nil
	}
	op := newOperatorStats(name, kind, n, outputBatchSize)
	op.windowed = true
	switch windowKind {
	case windowCB:
		op.windowType = "CB"
	case windowTB:
		op.windowType = "TB"
	}
	op.winLen = winLen
	op.slideLen = slideLen
	g.statsWriter.Register(name, op)
	return op
}

// watchTermination flips op.terminated once every one of this operator's
// replicas has torn down, so the statistics file's isTerminated field
// (spec §6) reflects reality instead of staying permanently false.
func watchTermination(op *operatorStats, runnables []runnable) {
	if op == nil {
		return
	}
	go func() {
		for _, r := range runnables {
			<-r.Done()
		}
		op.terminated.Store(true)
	}()
}

// NewGraph builds an empty Graph ready for AddSource calls.
func NewGraph(name string, opts ...GraphOption) *Graph {
	g := &Graph{name: name, executionMode: Default, bufferSize: 64, logger: defaultLogger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) register(r runnable) {
	g.mu.Lock()
	g.runnables = append(g.runnables, r)
	g.mu.Unlock()
}

// Run starts every replica's worker goroutine and blocks until they have
// all torn down (spec §4.5: "run() starts every replica's worker thread,
// blocks until all terminate, and returns").
func (g *Graph) Run(ctx context.Context) {
	g.mu.Lock()
	runnables := append([]runnable(nil), g.runnables...)
	g.mu.Unlock()

	for _, r := range runnables {
		r.run(ctx)
	}
	for _, r := range runnables {
		<-r.Done()
	}
}

// Pipe is a handle to one stage's set of parallel replicas, not yet wired
// to a downstream Emitter — that wiring happens lazily in Chain/ChainSink
// once the next stage's parallelism and routing are known (spec §4.5:
// "chain(op) ... a new stage with its emitters is inserted").
type Pipe[T any] struct {
	graph       *Graph
	parallelism int
	setters     []func(Emitter[T])
	runnables   []runnable
	currentWM   []func() uint64 // per-replica current input watermark, for the next edge's punctuation generation
}

// AddSource starts a new MultiPipe rooted at a Source operator (spec
// §4.5: "add_source(op) → new MultiPipe of parallelism P(op)"). pull is
// shared across every replica; connectors that need per-replica
// partitioning (e.g. one Kafka partition per replica) close over the
// replica index themselves by returning different Pullers from a
// factory, which AddSourceFunc accepts.
func AddSource[T any](g *Graph, name string, pull Puller[T], opt *Option[T]) *Pipe[T] {
	return AddSourceFunc(g, name, func(int) Puller[T] { return pull }, opt)
}

// AddSourceFunc is AddSource with a per-replica-index Puller factory, for
// connectors that partition their upstream by replica (Kafka partitions,
// SQS queue shards, ...).
func AddSourceFunc[T any](g *Graph, name string, pullFor func(replicaIndex int) Puller[T], opt *Option[T]) *Pipe[T] {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	ro := replicaOptionsFrom(opt)
	n := opt.Parallelism
	setters := make([]func(Emitter[T]), n)
	runnables := make([]runnable, n)
	currentWM := make([]func() uint64, n)
	stats := g.attachStats(name, KindSource, n, opt.OutputBatchSize)

	for i := 0; i < n; i++ {
		r := &sourceReplica[T]{
			id:        stageID(name, i),
			pull:      pullFor(i),
			metricsOn: ro.metrics,
			spanOn:    ro.span,
			recorder:  ro.recorder,
			closing:   ro.closing,
			onError:   ro.onError,
			done:      make(chan struct{}),
		}
		if stats != nil {
			r.stats = stats.replicas[i]
		}
		g.register(r)
		setters[i] = r.setEmitter
		runnables[i] = r
		currentWM[i] = r.currentWatermark
	}
	watchTermination(stats, runnables)

	return &Pipe[T]{graph: g, parallelism: n, setters: setters, runnables: runnables, currentWM: currentWM}
}

func stageID(name string, index int) string {
	if index == 0 {
		return name
	}
	return name + "#" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// wireEdge builds one upstream emitter per replica in up, per the routing
// rule spec §4.5 lays out (KeyBy wins if declared; equal parallelism with
// no KeyBy gets a direct Forward pairing; otherwise Reshuffle), and
// returns the input-channel set each of the numDown downstream replicas
// should merge.
func wireEdge[T any](up *Pipe[T], numDown int, opt *Option[T]) [][]chan *Batch[T] {
	numUp := up.parallelism
	bufferSize := up.graph.bufferSize
	if opt.BufferSize > 0 {
		bufferSize = opt.BufferSize
	}
	batchSize := opt.OutputBatchSize

	var kind Kind
	switch {
	case opt.KeyBy != nil:
		kind = KeyBy
	case numUp == numDown:
		kind = Forward
	default:
		kind = Reshuffle
	}

	numDest := numDown
	if kind == Forward {
		numDest = 1
	}

	upChannels := make([][]chan *Batch[T], numUp)
	for i := 0; i < numUp; i++ {
		id := stageID("edge", i)
		wm := up.currentWM[i]
		var emitter Emitter[T]
		switch kind {
		case Forward:
			emitter = newForwardEmitter[T](id, bufferSize, batchSize, wm)
		case KeyBy:
			emitter = newKeyByEmitter[T](id, numDest, bufferSize, batchSize, opt.KeyBy, wm)
		default:
			emitter = newReshuffleEmitter[T](id, numDest, bufferSize, batchSize, wm)
		}
		up.setters[i](emitter)
		upChannels[i] = emitter.Channels()
	}

	channels := make([][]chan *Batch[T], numDown)
	if kind == Forward {
		for d := 0; d < numDown; d++ {
			channels[d] = []chan *Batch[T]{upChannels[d][0]}
		}
	} else {
		for d := 0; d < numDown; d++ {
			chs := make([]chan *Batch[T], numUp)
			for i := 0; i < numUp; i++ {
				chs[i] = upChannels[i][d]
			}
			channels[d] = chs
		}
	}
	return channels
}

// newPassthroughPipe wraps a fixed set of already-connected channels (the
// destination slots a Split emitter produced for one branch) as a Pipe:
// one tiny relay replica per channel, each an identity Filter, so the
// branch behaves exactly like any other Pipe to a subsequent Chain call —
// it gets its own fresh per-replica Emitter once the next stage is known.
func newPassthroughPipe[T any](g *Graph, channels []chan *Batch[T]) *Pipe[T] {
	n := len(channels)
	setters := make([]func(Emitter[T]), n)
	runnables := make([]runnable, n)
	currentWM := make([]func() uint64, n)

	for i := 0; i < n; i++ {
		opt := defaultOption[T]()
		r := newFilterReplica[T](stageID("relay", i), i, func(T) (bool, error) { return true, nil }, opt)
		r.merger = newInputMerger[T](g.executionMode, g.probabilisticSlack, []chan *Batch[T]{channels[i]})
		g.register(r)
		setters[i] = r.setEmitter
		runnables[i] = r
		currentWM[i] = r.currentWatermark
	}

	return &Pipe[T]{graph: g, parallelism: n, setters: setters, runnables: runnables, currentWM: currentWM}
}

// Chain appends a Map operator (spec §4.5 "chain(op)"), transforming the
// payload type from IN to OUT.
func Chain[IN any, OUT any](up *Pipe[IN], name string, fn MapFunc[IN, OUT], opt *Option[IN]) *Pipe[OUT] {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	numDown := opt.Parallelism
	channels := wireEdge(up, numDown, opt)

	setters := make([]func(Emitter[OUT]), numDown)
	runnables := make([]runnable, numDown)
	currentWM := make([]func() uint64, numDown)
	stats := up.graph.attachStats(name, KindMap, numDown, opt.OutputBatchSize)
	for d := 0; d < numDown; d++ {
		r := newMapReplica[IN, OUT](stageID(name, d), d, fn, opt)
		r.merger = newInputMerger[IN](up.graph.executionMode, up.graph.probabilisticSlack, channels[d])
		if stats != nil {
			r.stats = stats.replicas[d]
		}
		up.graph.register(r)
		setters[d] = r.setEmitter
		runnables[d] = r
		currentWM[d] = r.currentWatermark
	}
	watchTermination(stats, runnables)

	return &Pipe[OUT]{graph: up.graph, parallelism: numDown, setters: setters, runnables: runnables, currentWM: currentWM}
}

// ChainFilter appends a Filter operator (payload type unchanged).
func ChainFilter[T any](up *Pipe[T], name string, fn FilterFunc[T], opt *Option[T]) *Pipe[T] {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	numDown := opt.Parallelism
	channels := wireEdge(up, numDown, opt)

	setters := make([]func(Emitter[T]), numDown)
	runnables := make([]runnable, numDown)
	currentWM := make([]func() uint64, numDown)
	stats := up.graph.attachStats(name, KindFilter, numDown, opt.OutputBatchSize)
	for d := 0; d < numDown; d++ {
		r := newFilterReplica[T](stageID(name, d), d, fn, opt)
		r.merger = newInputMerger[T](up.graph.executionMode, up.graph.probabilisticSlack, channels[d])
		if stats != nil {
			r.stats = stats.replicas[d]
		}
		up.graph.register(r)
		setters[d] = r.setEmitter
		runnables[d] = r
		currentWM[d] = r.currentWatermark
	}
	watchTermination(stats, runnables)

	return &Pipe[T]{graph: up.graph, parallelism: numDown, setters: setters, runnables: runnables, currentWM: currentWM}
}

// ChainFlatMap appends a FlatMap operator.
func ChainFlatMap[IN any, OUT any](up *Pipe[IN], name string, fn FlatMapFunc[IN, OUT], opt *Option[IN]) *Pipe[OUT] {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	numDown := opt.Parallelism
	channels := wireEdge(up, numDown, opt)

	setters := make([]func(Emitter[OUT]), numDown)
	runnables := make([]runnable, numDown)
	currentWM := make([]func() uint64, numDown)
	stats := up.graph.attachStats(name, KindFlatMap, numDown, opt.OutputBatchSize)
	for d := 0; d < numDown; d++ {
		r := newFlatMapReplica[IN, OUT](stageID(name, d), d, fn, opt)
		r.merger = newInputMerger[IN](up.graph.executionMode, up.graph.probabilisticSlack, channels[d])
		if stats != nil {
			r.stats = stats.replicas[d]
		}
		up.graph.register(r)
		setters[d] = r.setEmitter
		runnables[d] = r
		currentWM[d] = r.currentWatermark
	}
	watchTermination(stats, runnables)

	return &Pipe[OUT]{graph: up.graph, parallelism: numDown, setters: setters, runnables: runnables, currentWM: currentWM}
}

// ChainWindowed appends a windowed/aggregator operator (spec §4.4). When
// opt.Parallelism > 1, kw's ownership should already be partitioned via
// NewParallelWindows upstream of this call — build one with
// NewParallelWindows and pass its Replicas() slice as kws, so each element
// already carries its own owns predicate — and every replica receives every
// upstream tuple (Broadcast), per spec §4.5: "window operators receiving
// parallel inputs → Broadcast for Parallel_Windows".
func ChainWindowed[T any, K comparable, A any](up *Pipe[T], name string, kind OperatorKind, kws []*KeyedWindows[K, T, A], keyOf func(T) K, tsOf func(T) uint64, opt *Option[T]) *Pipe[WindowResult[K, A]] {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	numDown := opt.Parallelism
	if len(kws) != numDown {
		panic(configErrorf(name, "need exactly %d KeyedWindows instances for parallelism %d, got %d", numDown, numDown, len(kws)))
	}

	var channels [][]chan *Batch[T]
	if numDown > 1 {
		// Parallel_Windows: every replica observes every upstream tuple.
		broadcastOpt := *opt
		broadcastOpt.KeyBy = nil
		numUp := up.parallelism
		bufferSize := up.graph.bufferSize
		if opt.BufferSize > 0 {
			bufferSize = opt.BufferSize
		}
		upChannels := make([][]chan *Batch[T], numUp)
		for i := 0; i < numUp; i++ {
			wm := up.currentWM[i]
			emitter := newBroadcastEmitter[T](stageID("edge", i), numDown, bufferSize, opt.OutputBatchSize, wm, nil)
			up.setters[i](emitter)
			upChannels[i] = emitter.Channels()
		}
		channels = make([][]chan *Batch[T], numDown)
		for d := 0; d < numDown; d++ {
			chs := make([]chan *Batch[T], numUp)
			for i := 0; i < numUp; i++ {
				chs[i] = upChannels[i][d]
			}
			channels[d] = chs
		}
	} else {
		channels = wireEdge(up, numDown, opt)
	}

	setters := make([]func(Emitter[WindowResult[K, A]]), numDown)
	runnables := make([]runnable, numDown)
	currentWM := make([]func() uint64, numDown)
	stats := up.graph.attachWindowedStats(name, kind, numDown, opt.OutputBatchSize, opt.WindowKind, opt.WinLen, opt.SlideLen)
	for d := 0; d < numDown; d++ {
		r := newWindowedReplica[T, K, A](stageID(name, d), d, kind, kws[d], keyOf, tsOf, opt)
		r.merger = newInputMerger[T](up.graph.executionMode, up.graph.probabilisticSlack, channels[d])
		if stats != nil {
			r.stats = stats.replicas[d]
		}
		up.graph.register(r)
		setters[d] = r.setEmitter
		runnables[d] = r
		currentWM[d] = r.currentWatermark
	}
	watchTermination(stats, runnables)

	return &Pipe[WindowResult[K, A]]{graph: up.graph, parallelism: numDown, setters: setters, runnables: runnables, currentWM: currentWM}
}

// ChainSink appends a terminal Sink operator (spec §4.5 "chain_sink(op)").
func ChainSink[T any](up *Pipe[T], name string, push Pusher[T], opt *Option[T]) {
	if err := opt.validate(name); err != nil {
		panic(err)
	}

	numDown := opt.Parallelism
	channels := wireEdge(up, numDown, opt)
	stats := up.graph.attachStats(name, KindSink, numDown, opt.OutputBatchSize)
	runnables := make([]runnable, numDown)

	for d := 0; d < numDown; d++ {
		r := newSinkReplica[T](stageID(name, d), d, push, replicaOptionsFrom(opt))
		r.merger = newInputMerger[T](up.graph.executionMode, up.graph.probabilisticSlack, channels[d])
		if stats != nil {
			r.stats = stats.replicas[d]
		}
		up.graph.register(r)
		runnables[d] = r
	}
	watchTermination(stats, runnables)
}

// Split produces K downstream pipes (spec §4.5 "split(fn, K)"): each
// tuple is routed to the pipe whose index fn(tuple) returns. Select picks
// one of them by index; the pipes may then be chained independently and
// later recombined with Merge.
func Split[T any](up *Pipe[T], name string, k int, fn func(T) int, opt *Option[T]) []*Pipe[T] {
	if opt == nil {
		opt = defaultOption[T]()
	}
	bufferSize := up.graph.bufferSize
	if opt.BufferSize > 0 {
		bufferSize = opt.BufferSize
	}

	numUp := up.parallelism
	upChannels := make([][]chan *Batch[T], numUp)
	for i := 0; i < numUp; i++ {
		wm := up.currentWM[i]
		emitter := newSplitEmitter[T](stageID(name, i), k, bufferSize, opt.OutputBatchSize, fn, wm)
		up.setters[i](emitter)
		upChannels[i] = emitter.Channels()
	}

	pipes := make([]*Pipe[T], k)
	for s := 0; s < k; s++ {
		// Each branch pairs 1:1 with each upstream replica's s-th
		// destination slot; wrapped as a passthrough pipe so a subsequent
		// Chain call treats it exactly like any other Pipe of parallelism
		// numUp.
		channelsForSplit := make([]chan *Batch[T], numUp)
		for i := 0; i < numUp; i++ {
			channelsForSplit[i] = upChannels[i][s]
		}
		pipes[s] = newPassthroughPipe(up.graph, channelsForSplit)
	}
	return pipes
}

// Select obtains the i-th downstream pipe after a Split (spec §4.5
// "select(i)").
func Select[T any](pipes []*Pipe[T], i int) *Pipe[T] { return pipes[i] }

// Merge folds several pipes into one (spec §4.5 "merge(pipe...)":
// "downstream replicas gain more input channels"). The merged pipe's
// parallelism is the sum of its inputs'; a subsequent Chain/ChainSink call
// routes from every constituent replica as if it were one upstream stage.
func Merge[T any](pipes ...*Pipe[T]) *Pipe[T] {
	if len(pipes) == 0 {
		panic(configErrorf("merge", "merge requires at least one pipe"))
	}
	g := pipes[0].graph
	var setters []func(Emitter[T])
	var runnables []runnable
	var currentWM []func() uint64
	for _, p := range pipes {
		setters = append(setters, p.setters...)
		runnables = append(runnables, p.runnables...)
		currentWM = append(currentWM, p.currentWM...)
	}
	return &Pipe[T]{graph: g, parallelism: len(setters), setters: setters, runnables: runnables, currentWM: currentWM}
}
