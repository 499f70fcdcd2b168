package stream

import "testing"

func TestParseRangeHeader(t *testing.T) {
	cases := []struct {
		header string
		ok     bool
		n      int
	}{
		{"bytes=0-499", true, 1},
		{"bytes=500-", true, 1},
		{"bytes=-500", true, 1},
		{"bytes=0-499,500-999", true, 2},
		{"bytes=", false, 0},
		{"bytes=abc-def", false, 0},
		{"bytes=500-400", false, 0},
		{"nonsense", false, 0},
	}
	for _, c := range cases {
		segs, ok := parseRangeHeader(c.header)
		if ok != c.ok {
			t.Errorf("%q: ok=%v want %v", c.header, ok, c.ok)
			continue
		}
		if ok && len(segs) != c.n {
			t.Errorf("%q: got %d segments want %d", c.header, len(segs), c.n)
		}
	}
}

func TestResolveAgainstSize(t *testing.T) {
	segs, _ := parseRangeHeader("bytes=0-499,1000-1499,5000-")
	resolved, overlapped := resolveAgainstSize(segs, 2000)
	if !overlapped {
		t.Fatalf("expected overlap")
	}
	// the 5000- segment is entirely past size=2000 and should be dropped
	if len(resolved) != 2 {
		t.Fatalf("expected 2 surviving segments, got %d: %+v", len(resolved), resolved)
	}
	if resolved[0] != (RangeSpec{Start: 0, End: 499}) {
		t.Fatalf("unexpected first segment: %+v", resolved[0])
	}
	if resolved[1] != (RangeSpec{Start: 1000, End: 1499}) {
		t.Fatalf("unexpected second segment: %+v", resolved[1])
	}
}

func TestResolveAgainstSizeNoOverlap(t *testing.T) {
	segs, _ := parseRangeHeader("bytes=5000-6000")
	_, overlapped := resolveAgainstSize(segs, 100)
	if overlapped {
		t.Fatalf("expected no overlap for a range entirely past size")
	}
}

func TestResolveSingleSuffix(t *testing.T) {
	segs, _ := parseRangeHeader("bytes=-100")
	start, end, ok := resolveSingle(segs[0], 1000)
	if !ok || start != 900 || end != 999 {
		t.Fatalf("expected [900,999], got start=%d end=%d ok=%v", start, end, ok)
	}
}

func TestResolveSingleUnsatisfiable(t *testing.T) {
	segs, _ := parseRangeHeader("bytes=5000-6000")
	_, _, ok := resolveSingle(segs[0], 100)
	if ok {
		t.Fatalf("expected unsatisfiable range to be rejected")
	}
}
