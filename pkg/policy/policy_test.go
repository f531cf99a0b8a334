package policy

import "testing"

func TestAdjustFilling(t *testing.T) {
	cases := []struct {
		name       string
		nanos      int64
		wantIntv   float64
		wantQty    int64
	}{
		{"sub-100ms doubles up", 60_000_000, 0.12, 2},
		{"exactly-100ms floor", 100_000_000, 0.1, 1},
		{"one-second cadence", 1_000_000_000, 1.0, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gotIntv, gotQty := AdjustFilling(c.nanos)
			if gotQty != c.wantQty {
				t.Fatalf("fill quantity = %d, want %d", gotQty, c.wantQty)
			}
			if diff := gotIntv - c.wantIntv; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("fill interval = %v, want %v", gotIntv, c.wantIntv)
			}
		})
	}
}

func TestID(t *testing.T) {
	got := ID(TypeProcessingUnits, 1000, "60")
	want := "PU_1000_60"
	if got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
}
