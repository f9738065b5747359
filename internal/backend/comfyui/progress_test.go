package comfyui

import (
	"testing"

	"pgregory.net/rapid"
)

func ptr(v float64) *float64 { return &v }

func TestTrackerFiveUnits(t *testing.T) {
	tr := NewTracker(5)

	// Unit A starts with no sub-progress.
	if pct, ok := tr.Observe("A", nil, nil); !ok || pct != 0 {
		t.Errorf("A start = %d,%v, want 0,true", pct, ok)
	}
	// A repeated does not grow the seen set.
	if pct, ok := tr.Observe("A", nil, nil); !ok || pct != 0 {
		t.Errorf("A repeat = %d,%v, want 0,true", pct, ok)
	}
	// B is the second unit seen: one full unit plus half of B's share.
	if pct, ok := tr.Observe("B", ptr(50), ptr(100)); !ok || pct != 30 {
		t.Errorf("B 50/100 = %d,%v, want 30,true", pct, ok)
	}
}

func TestTrackerFirstUnitSubProgress(t *testing.T) {
	tr := NewTracker(5)

	if pct, ok := tr.Observe("B", ptr(50), ptr(100)); !ok || pct != 10 {
		t.Errorf("B 50/100 = %d,%v, want 10,true", pct, ok)
	}
}

func TestTrackerCeil(t *testing.T) {
	tr := NewTracker(7)

	tr.Observe("4", nil, nil)
	// 100/7 + 100/7 * 1/3 = 19.04..., rounded up.
	if pct, _ := tr.Observe("3", ptr(1), ptr(3)); pct != 20 {
		t.Errorf("pct = %d, want 20", pct)
	}
}

func TestTrackerIgnoresEmptyUnitAndZeroMax(t *testing.T) {
	tr := NewTracker(4)

	if _, ok := tr.Observe("", ptr(1), ptr(2)); ok {
		t.Error("empty unit label reported progress")
	}
	if pct, ok := tr.Observe("3", ptr(5), ptr(0)); !ok || pct != 0 {
		t.Errorf("zero max = %d,%v, want 0,true", pct, ok)
	}
}

func TestTrackerZeroTotal(t *testing.T) {
	tr := NewTracker(0)
	if _, ok := tr.Observe("3", nil, nil); ok {
		t.Error("tracker with zero units reported progress")
	}
}

func TestTrackerSkipsRegression(t *testing.T) {
	tr := NewTracker(2)

	if pct, _ := tr.Observe("3", ptr(9), ptr(10)); pct != 45 {
		t.Fatalf("pct = %d, want 45", pct)
	}
	// An out-of-order lower step would move backwards.
	if _, ok := tr.Observe("3", ptr(2), ptr(10)); ok {
		t.Error("regressing event was reported")
	}
	if tr.Last() != 45 {
		t.Errorf("Last() = %d, want 45", tr.Last())
	}
}

func TestTrackerCapsBeforeComplete(t *testing.T) {
	tr := NewTracker(1)

	if pct, _ := tr.Observe("9", ptr(10), ptr(10)); pct != 99 {
		t.Errorf("pct = %d, want 99", pct)
	}
	if got := tr.Complete(); got != 99 {
		t.Errorf("Complete() = %d, want 99", got)
	}
}

func TestTrackerMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 20).Draw(t, "total")
		tr := NewTracker(total)
		labels := rapid.SliceOfN(rapid.StringMatching(`[0-9]{1,2}`), 1, 30).Draw(t, "labels")

		last := -1
		for i, label := range labels {
			var value, maximum *float64
			if rapid.Bool().Draw(t, "sub") {
				m := float64(rapid.IntRange(0, 50).Draw(t, "max"))
				v := float64(rapid.IntRange(0, 50).Draw(t, "value"))
				value, maximum = &v, &m
			}
			pct, ok := tr.Observe(label, value, maximum)
			if !ok {
				continue
			}
			if pct < last {
				t.Fatalf("event %d: pct %d < previous %d", i, pct, last)
			}
			if pct < 0 || pct > 99 {
				t.Fatalf("event %d: pct %d out of range", i, pct)
			}
			last = pct
		}

		if final := tr.Complete(); final < last || final != 99 {
			t.Fatalf("Complete() = %d after %d", final, last)
		}
	})
}

func TestTrackerIsolationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 10).Draw(t, "total")
		labels := rapid.SliceOfN(rapid.StringMatching(`[a-c]`), 1, 10).Draw(t, "labels")

		a, b := NewTracker(total), NewTracker(total)
		for _, l := range labels {
			a.Observe(l, nil, nil)
		}
		// A fresh tracker is unaffected by another job's events.
		if pct, ok := b.Observe("z", nil, nil); !ok || pct != 0 {
			t.Fatalf("fresh tracker first event = %d,%v, want 0,true", pct, ok)
		}
	})
}
