package stream

import (
	"strconv"
	"strings"
)

// rawRange is one comma-separated segment of a Range header, before it is
// resolved against a known resource size.
type rawRange struct {
	suffix bool  // "-N" form: last N bytes
	start  int64 // valid when !suffix
	end    int64 // -1 means open ("N-" form)
	n      int64 // valid when suffix: the requested suffix length
}

// RangeSpec is a fully resolved, inclusive byte range.
type RangeSpec struct {
	Start int64
	End   int64 // inclusive
}

func (r RangeSpec) Len() int64 { return r.End - r.Start + 1 }

// parseRangeHeader parses a "Range: bytes=a-b,c-d,..." header into raw
// segments. Returns ok=false for anything not beginning with "bytes=" or
// containing a segment in neither "start-end", "start-", nor "-suffix"
// form — callers treat a not-ok parse as "ignore Range, serve 200" per §4.2.
func parseRangeHeader(header string) (segs []rawRange, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	parts := strings.Split(header[len(prefix):], ",")
	segs = make([]rawRange, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, false
		}
		dash := strings.IndexByte(p, '-')
		if dash < 0 {
			return nil, false
		}
		startStr, endStr := p[:dash], p[dash+1:]
		if startStr == "" {
			// "-suffix" form
			n, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || n < 0 {
				return nil, false
			}
			segs = append(segs, rawRange{suffix: true, n: n})
			continue
		}
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, false
		}
		if endStr == "" {
			segs = append(segs, rawRange{start: start, end: -1})
			continue
		}
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, false
		}
		segs = append(segs, rawRange{start: start, end: end})
	}
	if len(segs) == 0 {
		return nil, false
	}
	return segs, true
}

// resolveAgainstSize turns each raw segment into an inclusive RangeSpec
// clamped to [0,size), dropping segments that don't overlap [0,size) at
// all. overlapped reports whether at least one input segment survived.
func resolveAgainstSize(segs []rawRange, size int64) (resolved []RangeSpec, overlapped bool) {
	for _, s := range segs {
		var start, end int64
		switch {
		case s.suffix:
			if s.n == 0 {
				continue // a zero-length suffix requests nothing
			}
			start = size - s.n
			if start < 0 {
				start = 0
			}
			end = size - 1
		case s.end == -1:
			start = s.start
			end = size - 1
		default:
			start = s.start
			end = s.end
		}
		if start >= size || end < start {
			continue
		}
		if end > size-1 {
			end = size - 1
		}
		resolved = append(resolved, RangeSpec{Start: start, End: end})
		overlapped = true
	}
	return resolved, overlapped
}

// totalRequestedBytes sums the length of every resolved segment, used by
// the multi-range "total requested > size ⇒ ignore Range" rule.
func totalRequestedBytes(specs []RangeSpec) int64 {
	var total int64
	for _, s := range specs {
		total += s.Len()
	}
	return total
}
