package vexcl

// Range is a contiguous half-open index range [Begin, End) assigned to one
// device.
type Range struct {
	Begin, End int
}

// Size returns the number of indices in the range.
func (r Range) Size() int { return r.End - r.Begin }

// partition splits a logical extent of size n into d contiguous ranges whose
// sizes differ by at most one, larger ranges first. Every distributed
// structure recomputes this same table from (n, d), so vector partitions,
// matrix row blocks and kernel launch bounds always agree.
func partition(n, d int) []Range {
	parts := make([]Range, d)
	chunk := n / d
	rem := n % d
	begin := 0
	for i := range parts {
		size := chunk
		if i < rem {
			size++
		}
		parts[i] = Range{Begin: begin, End: begin + size}
		begin += size
	}
	return parts
}

// partOwner returns the index of the range containing idx, or -1.
func partOwner(parts []Range, idx int) int {
	for i, r := range parts {
		if idx >= r.Begin && idx < r.End {
			return i
		}
	}
	return -1
}
