package adaptive

import "testing"

func TestAllowCost_RoundsUpFractionalPU(t *testing.T) {
	l := NewAdaptiveLimiter(1)
	// Burst is ceil(1) = 1 token; a 0.2-PU request still consumes one whole
	// token, so the very next call of any cost must be denied.
	if !l.AllowCost(0.2) {
		t.Fatalf("expected first sub-unit request to be allowed")
	}
	if l.AllowCost(0.2) {
		t.Fatalf("expected second request to be denied once the single-token burst is spent")
	}
}

func TestAllow_IsCostOneShorthand(t *testing.T) {
	l := NewAdaptiveLimiter(1)
	if !l.Allow() {
		t.Fatalf("expected first request to be allowed")
	}
	if l.Allow() {
		t.Fatalf("expected second request to be denied once burst is spent")
	}
}

func TestUpdateFactor_ScalesBudget(t *testing.T) {
	l := NewAdaptiveLimiter(10)
	l.UpdateFactor(0.1)
	if l.underlyingLimiter.Limit() != 1 {
		t.Fatalf("expected scaled limit 1, got %v", l.underlyingLimiter.Limit())
	}
}
