package executor

import (
	"fmt"
	"strings"
	"testing"
)

// TestRingBufferEviction ensures that RingBuffer evicts oldest lines when capacity exceeded
func TestRingBufferEviction(t *testing.T) {
	capBytes := 20
	r := NewRingBuffer(capBytes)

	inputs := []string{"aaaa", "bbbb", "cccc", "dddd", "eeee", "ffff"}
	for _, s := range inputs {
		r.Add(s)
	}

	if r.totalBytes > capBytes {
		t.Fatalf("expected totalBytes <= %d, got %d", capBytes, r.totalBytes)
	}
	all := r.All()
	if got := strings.Join(all, "|"); got != "bbbb|cccc|dddd|eeee|ffff" {
		t.Fatalf("unexpected remaining lines: %v", all)
	}
	if last := r.LastN(2); len(last) != 2 || last[1] != "ffff" {
		t.Fatalf("unexpected LastN result: %v", last)
	}
	if r.LastN(0) != nil {
		t.Fatalf("LastN(0) should be nil")
	}
}

func TestHistoryEvidence(t *testing.T) {
	h := newHistory()
	if h.evidence(5) != "" {
		t.Fatalf("empty history should produce no evidence")
	}
	for i := 0; i < 30; i++ {
		h.add(fmt.Sprintf("line-%02d", i))
	}

	ev := h.evidence(evidenceLines)
	if !strings.HasPrefix(ev, "=== ERROR EVIDENCE (last 20 lines) ===\n") {
		t.Fatalf("missing header: %q", ev)
	}
	if strings.Contains(ev, "line-09") || !strings.HasSuffix(ev, "line-29") {
		t.Fatalf("expected the last 20 lines only, got: %s", ev)
	}
}
