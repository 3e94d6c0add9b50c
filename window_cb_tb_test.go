package wflow

import "testing"

func sumAggregator() Aggregator[int, int] {
	return Aggregator[int, int]{
		Zero: func() int { return 0 },
		Add:  func(acc int, v int) int { return acc + v },
	}
}

// Test_CB_Window_Firing_Sequence exercises spec §4.4's count-based
// windowing rule: a window fires the instant it receives its win_len-th
// tuple. With win_len=10 and slide_len=8, a single key's arrivals fire
// sliding windows at counts 10, 18, 26, 34, 42, 50 over 50 arrivals (the
// window opened at arrival k closes exactly win_len tuples later, and a new
// window opens every slide_len arrivals: floor((50-10)/8)+1 = 6 firings).
func Test_CB_Window_Firing_Sequence(t *testing.T) {
	kw := NewKeyedWindows[string, int, int](windowCB, 10, 8, 0, sumAggregator())

	var fireAt []int
	for i := 1; i <= 50; i++ {
		fired := kw.Add("k", uint64(i), 1)
		if len(fired) > 0 {
			fireAt = append(fireAt, i)
		}
	}

	want := []int{10, 18, 26, 34, 42, 50}
	if len(fireAt) != len(want) {
		t.Fatalf("fired at %v, want %v", fireAt, want)
	}
	for i, w := range want {
		if fireAt[i] != w {
			t.Fatalf("fired at %v, want %v", fireAt, want)
		}
	}

	if n := kw.GetNumIgnoredTuples(); n != 0 {
		t.Fatalf("GetNumIgnoredTuples() = %d, want 0", n)
	}
}

// Test_CB_Window_Firing_Aggregate checks the fired window's Aggregate and
// [Start, End) range alongside the firing count from the sequence test
// above, using a window wide enough to fire exactly once.
func Test_CB_Window_Firing_Aggregate(t *testing.T) {
	kw := NewKeyedWindows[string, int, int](windowCB, 5, 5, 0, sumAggregator())

	var fired []WindowResult[string, int]
	for i := 1; i <= 5; i++ {
		fired = append(fired, kw.Add("k", 0, i)...)
	}

	if len(fired) != 1 {
		t.Fatalf("len(fired) = %d, want 1", len(fired))
	}
	r := fired[0]
	if r.Start != 0 || r.End != 5 {
		t.Fatalf("window range = [%d, %d), want [0, 5)", r.Start, r.End)
	}
	if r.Aggregate != 15 { // 1+2+3+4+5
		t.Fatalf("aggregate = %d, want 15", r.Aggregate)
	}
}

// Test_TB_Window_Lateness_Ignored_Tuple exercises spec §4.4's TB firing
// path: tumbling windows of length 10 fire only once the watermark (plus
// lateness) has passed their end, and a tuple arriving for a window that
// has already fired and been destroyed is dropped and counted via
// GetNumIgnoredTuples rather than silently reopening the window.
func Test_TB_Window_Lateness_Ignored_Tuple(t *testing.T) {
	const winLen, slideLen, lateness = 10, 10, 5
	kw := NewKeyedWindows[string, int, int](windowTB, winLen, slideLen, lateness, sumAggregator())

	for ts := uint64(0); ts < 100; ts++ {
		if fired := kw.Add("k", ts, 1); len(fired) != 0 {
			t.Fatalf("Add should never fire directly for TB windows, got %v", fired)
		}
	}

	// Advancing the watermark to 105 should fire every one of the 10
	// windows [0,10), [10,20), ..., [90,100), each having received
	// exactly 10 tuples.
	fired := kw.Advance(105)
	if len(fired) != 10 {
		t.Fatalf("fired %d windows, want 10", len(fired))
	}
	for i, r := range fired {
		if r.Start != uint64(i*10) || r.End != uint64(i*10+10) {
			t.Fatalf("window %d range = [%d, %d), want [%d, %d)", i, r.Start, r.End, i*10, i*10+10)
		}
		if r.Aggregate != 10 {
			t.Fatalf("window %d aggregate = %d, want 10", i, r.Aggregate)
		}
	}

	// A tuple for the now-destroyed [0, 10) window arrives late: it must
	// be dropped, not silently reopen the window.
	if fired := kw.Add("k", 0, 1); len(fired) != 0 {
		t.Fatalf("late arrival should never fire, got %v", fired)
	}
	if n := kw.GetNumIgnoredTuples(); n != 1 {
		t.Fatalf("GetNumIgnoredTuples() = %d, want 1", n)
	}

	// No further window firing should happen for an arrival that was
	// ignored.
	if fired := kw.Advance(200); len(fired) != 0 {
		t.Fatalf("no further windows should fire, got %v", fired)
	}
}
