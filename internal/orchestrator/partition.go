package orchestrator

// Range is the half-open slice [Start, End) of targets owned by one worker.
type Range struct {
	Start, End int
}

// Len returns the number of targets in r.
func (r Range) Len() int { return r.End - r.Start }

// Partition splits n targets into p contiguous ranges of n/p targets, the
// last range absorbing the remainder. With fewer targets than workers every
// range but the last is empty.
func Partition(n, p int) []Range {
	if p <= 0 {
		p = 1
	}
	if n < 0 {
		n = 0
	}
	per := n / p
	out := make([]Range, p)
	for i := range out {
		out[i] = Range{Start: i * per, End: (i + 1) * per}
	}
	out[p-1].End = n
	return out
}
