// Command wflow-run runs one Graph to completion: either a graphconfig.Config
// document given as its only argument, or — with no arguments — a small
// built-in demo graph (ints 0..99 → tumbling-window sum → logged results),
// exercising the engine end to end the way a teacher's cmd/ scaffolding
// tool would bootstrap a new project. This is not a benchmark harness
// (spec §9's Non-goals) — it is the minimal "does this actually run"
// smoke check a real deployment's entrypoint would start from.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	wflow "wflow"
	"wflow/adminserver"
	"wflow/graphconfig"
)

func main() {
	logger := logrus.New()

	if len(os.Args) > 1 {
		runFromConfig(os.Args[1], logger)
		return
	}
	runDemo(logger)
}

func runFromConfig(path string, logger *logrus.Logger) {
	body, err := os.ReadFile(path)
	if err != nil {
		logger.Fatalf("reading config %s: %v", path, err)
	}

	cfg, err := graphconfig.Decode(body)
	if err != nil {
		logger.Fatalf("decoding config: %v", err)
	}

	g, err := graphconfig.Load(cfg, logger)
	if err != nil {
		logger.Fatalf("building graph: %v", err)
	}

	srv := adminserver.New(cfg.Name, nil)
	go func() {
		if err := srv.Listen(":8080"); err != nil {
			logger.Warnf("admin server stopped: %v", err)
		}
	}()

	g.Run(context.Background())
	srv.MarkTerminated()
}

// runDemo builds a graph generating 100 ints (one every 10ms), summing
// them in tumbling 250ms windows keyed by parity, and logging each fired
// window — a tiny end-to-end exercise of Source, ChainWindowed, and Sink
// together. The parity grouping happens inside the keyed windows; no edge
// in this graph uses KeyBy routing.
func runDemo(logger *logrus.Logger) {
	g := wflow.NewGraph("demo")

	count := 0
	pull := func(ctx context.Context) (int, uint64, bool, error) {
		if count >= 100 {
			return 0, 0, false, nil
		}
		v := count
		count++
		time.Sleep(10 * time.Millisecond)
		return v, uint64(time.Now().UnixNano()), true, nil
	}

	src := wflow.AddSource(g, "generator", pull, wflow.NewOption[int]())

	agg := wflow.Aggregator[int, int]{
		Zero: func() int { return 0 },
		Add:  func(acc, v int) int { return acc + v },
	}
	kw := wflow.NewKeyedWindows[int, int, int](wflow.TBWindow, uint64(250*time.Millisecond), uint64(250*time.Millisecond), 0, agg)

	windowed := wflow.ChainWindowed[int, int, int](src, "parity_sum", wflow.KindAggregator,
		[]*wflow.KeyedWindows[int, int, int]{kw},
		func(v int) int { return v % 2 },
		nil, // use each envelope's own Timestamp, set by pull above
		wflow.NewOption[int](),
	)

	wflow.ChainSink(windowed, "logger", func(r wflow.WindowResult[int, int]) error {
		logger.Infof("window [%d,%d) key=%d sum=%d", r.Start, r.End, r.Key, r.Aggregate)
		return nil
	}, wflow.NewOption[wflow.WindowResult[int, int]]())

	g.Run(context.Background())
	fmt.Println("demo graph finished")
}
